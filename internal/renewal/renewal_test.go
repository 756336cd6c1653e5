package renewal

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*60*60)

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string // "" = not found
	}{
		{"plain", []string{"2025-07-14 08:20"}, "2025-07-14 08:20"},
		{"embedded in label", []string{"利用期限 2025-07-14 08:20 まで"}, "2025-07-14 08:20"},
		{"first fragment wins", []string{"2025-07-14 08:20", "2025-08-01 00:00"}, "2025-07-14 08:20"},
		{"skips fragments without a date", []string{"プラン: 無料", "", "2025-07-14 08:20"}, "2025-07-14 08:20"},
		{"lookalike skipped, scan continues", []string{"2025-13-40 10:00", "2025-07-14 08:20"}, "2025-07-14 08:20"},
		{"second match in same fragment", []string{"2025-02-30 10:00 / 2025-03-01 10:00"}, "2025-03-01 10:00"},
		{"multiple spaces and newline", []string{"2025-07-14 \n 08:20"}, "2025-07-14 08:20"},
		{"full width digits", []string{"２０２５-０７-１４ ０８:２０"}, "2025-07-14 08:20"},
		{"date only is not enough", []string{"2025-07-14"}, ""},
		{"no fragments", nil, ""},
		{"only lookalikes", []string{"9999-99-99 99:99"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseExpiration(tt.fragments, jst)
			if tt.want == "" {
				assert.False(t, ok)
				assert.Nil(t, got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Format(ExpirationLayout))
			assert.Equal(t, jst, got.Location())
		})
	}
}

func TestDecideBoundaries(t *testing.T) {
	now := time.Date(2025, 7, 12, 9, 0, 0, 0, jst)
	at := func(d time.Duration) *time.Time { ts := now.Add(d); return &ts }

	tests := []struct {
		name      string
		exp       *time.Time
		threshold float64
		state     State
		attempt   bool
	}{
		{"unknown expiration", nil, 12, InWindow, true},
		{"expires exactly now", at(0), 12, Expired, true},
		{"already expired", at(-3 * time.Hour), 12, Expired, true},
		{"24h01m left, threshold 12", at(24*time.Hour + time.Minute), 12, BeforeWindow, false},
		{"23h59m left, threshold 0", at(23*time.Hour + 59*time.Minute), 0, InWindow, true},
		{"23h59m left, threshold 12", at(23*time.Hour + 59*time.Minute), 12, InWindow, true},
		{"exactly 24h left", at(24 * time.Hour), 0, InWindow, true},
		{"threshold wider than window", at(30 * time.Hour), 36, InWindow, true},
		{"threshold boundary inclusive", at(36 * time.Hour), 36, InWindow, true},
		{"far out", at(72 * time.Hour), 12, BeforeWindow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(now, tt.exp, tt.threshold)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.attempt, d.Attempt)
			if d.Attempt {
				assert.Nil(t, d.NextCheck)
			} else {
				require.NotNil(t, d.NextCheck)
				assert.True(t, d.NextCheck.After(now))
			}
		})
	}
}

func TestDecideReportsGrantAndWindow(t *testing.T) {
	now := time.Date(2025, 7, 12, 9, 0, 0, 0, jst)
	exp := time.Date(2025, 7, 15, 8, 20, 0, 0, jst)

	d := Decide(now, &exp, 12)
	want := Decision{
		State:              BeforeWindow,
		Expiration:         &exp,
		NextCheck:          timePtr(time.Date(2025, 7, 14, 20, 20, 0, 0, jst)),
		EligibleFrom:       timePtr(time.Date(2025, 7, 14, 8, 20, 0, 0, jst)),
		ExpectedExpiration: timePtr(time.Date(2025, 7, 17, 8, 20, 0, 0, jst)),
	}
	if diff := cmp.Diff(want, d, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Reason"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecideGrantMeasuredFromPriorExpiration(t *testing.T) {
	exp := time.Date(2025, 7, 14, 8, 20, 0, 0, jst)
	// late run: lease already expired two hours ago
	now := exp.Add(2 * time.Hour)

	d := Decide(now, &exp, 12)
	assert.Equal(t, Expired, d.State)
	assert.Equal(t, exp.Add(48*time.Hour), *d.ExpectedExpiration)
}

func TestDecideIsTotal(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{
		-1000 * time.Hour, -time.Nanosecond, 0, time.Nanosecond, time.Hour,
		12 * time.Hour, 24 * time.Hour, 24*time.Hour + time.Nanosecond,
		48 * time.Hour, 10000 * time.Hour, math.MaxInt64 / 2,
	}
	thresholds := []float64{0, 0.5, 12, 24, 25, 1e6, -5, math.NaN(), math.Inf(1), math.Inf(-1)}

	for _, off := range offsets {
		for _, th := range thresholds {
			exp := now.Add(off)
			d := Decide(now, &exp, th)
			if !d.Attempt {
				if d.NextCheck == nil || !d.NextCheck.After(now) {
					t.Errorf("offset %v threshold %v: no attempt but next check %v is not after now", off, th, d.NextCheck)
				}
				if d.State != BeforeWindow {
					t.Errorf("offset %v threshold %v: no attempt in state %s", off, th, d.State)
				}
			}
		}
	}
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func TestPlannerDecideRenewal(t *testing.T) {
	now := time.Date(2025, 7, 12, 9, 0, 0, 0, jst)
	p := Planner{Clock: fixedClock(now), Location: jst, ThresholdHours: 12}

	d := p.DecideRenewal([]string{"契約情報", "2025-07-14 08:20"})
	assert.False(t, d.Attempt)
	assert.Equal(t, BeforeWindow, d.State)
	assert.Equal(t, time.Date(2025, 7, 13, 20, 20, 0, 0, jst), *d.NextCheck)

	d = p.DecideRenewal([]string{"2025-07-13 08:20"})
	assert.True(t, d.Attempt)
	assert.Equal(t, InWindow, d.State)

	d = p.DecideRenewal([]string{"no date here", "2025-99-99 00:00"})
	assert.True(t, d.Attempt)
	assert.Nil(t, d.Expiration)
}

func TestPlannerClockFunc(t *testing.T) {
	now := time.Date(2025, 7, 12, 9, 0, 0, 0, jst)
	p := Planner{Clock: ClockFunc(func() time.Time { return now }), Location: jst}
	d := p.DecideRenewal([]string{"2025-07-12 09:00"})
	assert.Equal(t, Expired, d.State)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "BEFORE_WINDOW", BeforeWindow.String())
	assert.Equal(t, "IN_WINDOW", InWindow.String())
	assert.Equal(t, "EXPIRED", Expired.String())
	assert.Equal(t, "State(9)", State(9).String())
}
