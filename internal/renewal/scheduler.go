package renewal

import (
	"fmt"
	"math"
	"time"

	"vpsrenew/internal/logging"
)

const (
	// EligibilityWindow is how long before expiration the panel starts
	// accepting renewals, whatever the local threshold says.
	EligibilityWindow = 24 * time.Hour

	// GrantPeriod is added to the prior expiration by a successful renewal.
	GrantPeriod = 48 * time.Hour
)

// State classifies the lease relative to its expiration.
type State int

const (
	InWindow State = iota
	BeforeWindow
	Expired
)

func (s State) String() string {
	switch s {
	case BeforeWindow:
		return "BEFORE_WINDOW"
	case InWindow:
		return "IN_WINDOW"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decision is the outcome of one scheduling evaluation.
type Decision struct {
	State   State
	Attempt bool
	Reason  string

	// Expiration is nil when it could not be determined.
	Expiration *time.Time
	// NextCheck is set only when Attempt is false and is always after now.
	NextCheck *time.Time
	// EligibleFrom is when the panel starts accepting a renewal.
	EligibleFrom *time.Time
	// ExpectedExpiration is the new expiration after a successful renewal.
	ExpectedExpiration *time.Time
}

// Decide applies the renewal rules in order:
//
//  1. unknown expiration: IN_WINDOW, attempt
//  2. now >= expiration: EXPIRED, attempt
//  3. at most 24h left: IN_WINDOW, attempt
//  4. at most thresholdHours left: IN_WINDOW, attempt
//  5. otherwise BEFORE_WINDOW, check again at expiration - thresholdHours
//
// It has no side effects.
func Decide(now time.Time, expiration *time.Time, thresholdHours float64) Decision {
	if math.IsNaN(thresholdHours) || thresholdHours < 0 {
		thresholdHours = 0
	}

	if expiration == nil {
		return Decision{
			State:   InWindow,
			Attempt: true,
			Reason:  "expiration unknown",
		}
	}

	exp := *expiration
	d := Decision{
		Expiration:         &exp,
		EligibleFrom:       timePtr(exp.Add(-EligibilityWindow)),
		ExpectedExpiration: timePtr(exp.Add(GrantPeriod)),
	}
	remaining := exp.Sub(now)

	switch {
	case !now.Before(exp):
		d.State, d.Attempt = Expired, true
		d.Reason = fmt.Sprintf("expired %s ago", roundDuration(-remaining))
	case remaining <= EligibilityWindow:
		d.State, d.Attempt = InWindow, true
		d.Reason = fmt.Sprintf("%s left, inside the 24h renewal window", roundDuration(remaining))
	case remaining.Hours() <= thresholdHours:
		d.State, d.Attempt = InWindow, true
		d.Reason = fmt.Sprintf("%s left, inside the %gh threshold", roundDuration(remaining), thresholdHours)
	default:
		// remaining > thresholdHours here, so the conversion cannot overflow
		// and the next check lands after now.
		threshold := time.Duration(thresholdHours * float64(time.Hour))
		d.State = BeforeWindow
		d.NextCheck = timePtr(exp.Add(-threshold))
		d.Reason = fmt.Sprintf("%s left, outside the %gh threshold", roundDuration(remaining), thresholdHours)
	}
	return d
}

// Clock supplies the current time. The session driver satisfies it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Planner combines expiration parsing and the scheduling rules.
type Planner struct {
	Clock          Clock
	Location       *time.Location
	ThresholdHours float64
}

// DecideRenewal parses the expiration from page text candidates and decides.
// A missing or unparseable expiration degrades to an attempt.
func (p Planner) DecideRenewal(texts []string) Decision {
	now := time.Now()
	if p.Clock != nil {
		now = p.Clock.Now()
	}

	exp, ok := ParseExpiration(texts, p.Location)
	if !ok {
		logging.RenewalWarn("no expiration found in %d text candidates, assuming renewal is due", len(texts))
	}

	d := Decide(now, exp, p.ThresholdHours)
	logging.Renewal("decision: %s attempt=%v (%s)", d.State, d.Attempt, d.Reason)
	return d
}

func timePtr(t time.Time) *time.Time { return &t }

func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Minute)
}
