// Package usage computes token-usage reports from the conversation
// corpus: a fixed five-hour session block and rolling weekly windows,
// checked against subscription plan budgets.
package usage

import "time"

// Session blocks are anchored in UTC. Boundaries are fixed hours rather
// than a plain five-hour grid; the 19:00 block wraps past midnight into
// the short 00:00 block of the next day.
var blockBoundaries = [...]int{0, 4, 9, 14, 19}

// blockStart returns the start of the session block containing t.
func blockStart(t time.Time) time.Time {
	u := t.UTC()
	hour := blockBoundaries[0]
	for _, b := range blockBoundaries {
		if u.Hour() >= b {
			hour = b
		}
	}
	return time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
}

// blockEnd returns the end of the block beginning at start. The end is
// exclusive: a sample exactly on the boundary belongs to the next block.
func blockEnd(start time.Time) time.Time {
	for i, b := range blockBoundaries {
		if start.Hour() == b {
			if i+1 < len(blockBoundaries) {
				next := blockBoundaries[i+1]
				return time.Date(start.Year(), start.Month(), start.Day(), next, 0, 0, 0, time.UTC)
			}
			return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		}
	}
	return start.Add(5 * time.Hour)
}

// currentBlock returns the [start, end) session block containing now.
func currentBlock(now time.Time) (start, end time.Time) {
	start = blockStart(now)
	return start, blockEnd(start)
}
