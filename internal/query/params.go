// Package query implements the conversation query engine: project
// selection, date and keyword filtering, thread grouping, and
// pagination over the corpus. Two entry points are offered: the
// streaming GetConversations with early termination and the simpler
// ScanConversations that always reads everything; both produce the
// same page for the same inputs.
package query

import (
	"errors"
	"fmt"
	"time"
)

// Sort orders accepted by the engine.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

const (
	// DefaultLimit is applied when a caller leaves limit unset.
	DefaultLimit = 15
	maxLimit     = 1000
)

const dateLayout = "2006-01-02"

// ErrInvalidParams wraps every parameter validation failure so
// transport layers can map the whole class to a 400.
var ErrInvalidParams = errors.New("invalid query parameters")

// Params are the arguments of one conversation query. Dates are civil
// dates in the corpus timezone, inclusive on both ends.
type Params struct {
	Projects           []string
	StartDate          string
	EndDate            string
	Keyword            string
	ShowRelatedThreads bool
	SortOrder          string
	Offset             int
	Limit              int
}

// DefaultParams returns the parameter defaults: newest first, fifteen
// threads, related threads included.
func DefaultParams() Params {
	return Params{
		ShowRelatedThreads: true,
		SortOrder:          SortDesc,
		Limit:              DefaultLimit,
	}
}

// Validate rejects out-of-range paging values, unknown sort orders and
// malformed dates before any file is touched.
func (p Params) Validate() error {
	if p.Limit < 1 || p.Limit > maxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidParams, maxLimit, p.Limit)
	}
	if p.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidParams, p.Offset)
	}
	if p.SortOrder != SortAsc && p.SortOrder != SortDesc {
		return fmt.Errorf("%w: sort_order must be %q or %q, got %q", ErrInvalidParams, SortAsc, SortDesc, p.SortOrder)
	}
	for _, d := range []string{p.StartDate, p.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("%w: date %q is not in YYYY-MM-DD form", ErrInvalidParams, d)
		}
	}
	return nil
}
