package usage

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 6, 1, hour, min, 0, 0, time.UTC)
}

func TestCurrentBlock(t *testing.T) {
	tests := []struct {
		now        time.Time
		wantStart  time.Time
		wantEnd    time.Time
	}{
		{at(0, 30), at(0, 0), at(4, 0)},
		{at(3, 59), at(0, 0), at(4, 0)},
		{at(4, 0), at(4, 0), at(9, 0)},
		{at(8, 59), at(4, 0), at(9, 0)},
		{at(9, 0), at(9, 0), at(14, 0)},
		{at(13, 59), at(9, 0), at(14, 0)},
		{at(14, 0), at(14, 0), at(19, 0)},
		{at(15, 30), at(14, 0), at(19, 0)},
		{at(18, 59), at(14, 0), at(19, 0)},
		// The last block wraps past midnight.
		{at(19, 0), at(19, 0), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		{at(23, 59), at(19, 0), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		start, end := currentBlock(tt.now)
		if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
			t.Errorf("currentBlock(%v) = [%v, %v), want [%v, %v)",
				tt.now, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

func TestBlockStartIgnoresWallClockZone(t *testing.T) {
	// 00:30+09:00 is 15:30 UTC the previous day.
	jst := time.FixedZone("JST", 9*3600)
	now := time.Date(2025, 6, 2, 0, 30, 0, 0, jst)

	start := blockStart(now)
	want := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("blockStart = %v, want %v", start, want)
	}
}
