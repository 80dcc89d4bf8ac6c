package corpus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PathToProjectID converts a source path into the directory name the
// recorder uses under the corpus root: strip the leading separator,
// replace every "/", "." and "_" with "-", ensure a single leading "-".
// The transform is idempotent, so already-converted ids pass through.
func PathToProjectID(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "-"
	}
	p = filepath.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.NewReplacer("/", "-", ".", "-", "_", "-").Replace(p)
	if !strings.HasPrefix(p, "-") {
		p = "-" + p
	}
	return p
}

// DisplayName recovers a short human name from a project id. The id
// encodes the original absolute path with "-" for separators, so the
// reconstruction is heuristic: prefer whatever follows a workspace or
// Documents segment, then anything under a home directory, then the
// last path segments.
func DisplayName(id string) string {
	if !strings.HasPrefix(id, "-") {
		return id
	}
	parts := strings.Split(strings.TrimPrefix(id, "-"), "-")

	trimNoise := func(p []string) []string {
		if n := len(p); n > 0 && (p[n-1] == "claude" || p[n-1] == "projects") {
			return p[:n-1]
		}
		return p
	}
	after := func(marker string, skip int) (string, bool) {
		for i, part := range parts {
			if part == marker && i+skip < len(parts) {
				return strings.Join(trimNoise(parts[i+skip:]), "/"), true
			}
		}
		return "", false
	}

	if name, ok := after("workspace", 1); ok {
		return name
	}
	if name, ok := after("Documents", 1); ok {
		return name
	}
	// Home layouts: /Users/<name>/... or /home/<name>/...
	for _, indicator := range []string{"Users", "home"} {
		for i, part := range parts {
			if part == indicator && i+2 < len(parts) {
				return strings.Join(trimNoise(parts[i+2:]), "/")
			}
		}
	}
	if len(parts) >= 3 {
		return strings.Join(trimNoise(parts[len(parts)-3:]), "/")
	}
	if len(parts) == 2 {
		return strings.Join(trimNoise(parts), "/")
	}
	return id
}

// Catalog enumerates project directories under the corpus root and
// applies the configured allow-list.
type Catalog struct {
	root  string
	allow map[string]bool // project ids; nil means everything is served
}

// NewCatalog builds a catalog for root. allowlist entries are source
// paths (or already-converted ids) and narrow what List returns.
func NewCatalog(root string, allowlist []string) *Catalog {
	c := &Catalog{root: root}
	if len(allowlist) > 0 {
		c.allow = make(map[string]bool, len(allowlist))
		for _, p := range allowlist {
			c.allow[PathToProjectID(p)] = true
		}
	}
	return c
}

// Root returns the corpus root directory.
func (c *Catalog) Root() string { return c.root }

// Dir returns the directory for a project id.
func (c *Catalog) Dir(projectID string) string {
	return filepath.Join(c.root, projectID)
}

// Allowed reports whether a project id passes the allow-list.
func (c *Catalog) Allowed(projectID string) bool {
	return c.allow == nil || c.allow[projectID]
}

// List returns every served project with a deduplicated display name.
// A missing root is an empty corpus, not an error. A non-empty
// allow-list that matches nothing yields an empty result.
func (c *Catalog) List() ([]Project, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read corpus root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !c.Allowed(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	if c.allow != nil && len(ids) == 0 {
		slog.Error("corpus.catalog: allow-list matched no project directories",
			"root", c.root, "allowed", len(c.allow))
		return nil, nil
	}
	sort.Strings(ids)

	seen := make(map[string]bool, len(ids))
	projects := make([]Project, 0, len(ids))
	for _, id := range ids {
		name := DisplayName(id)
		if seen[name] {
			base := name
			for n := 1; seen[name]; n++ {
				name = fmt.Sprintf("%s (%d)", base, n)
			}
		}
		seen[name] = true
		projects = append(projects, Project{
			ID:          id,
			DisplayName: name,
			Path:        c.Dir(id),
		})
	}
	return projects, nil
}

// Files returns the *.jsonl files of one project, sorted by name.
func (c *Catalog) Files(projectID string) ([]string, error) {
	pattern := filepath.Join(c.Dir(projectID), "*.jsonl")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	return files, nil
}
