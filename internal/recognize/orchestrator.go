package recognize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/google/uuid"

	"vpsrenew/internal/artifacts"
	"vpsrenew/internal/imaging"
	"vpsrenew/internal/logging"
	"vpsrenew/internal/phonetic"
	"vpsrenew/internal/rendezvous"
)

// Policy holds the acceptance rule and normalizer options.
type Policy struct {
	CodeLength int
	SoftFloor  int
	Normalize  imaging.Options
}

// DefaultPolicy is exact six digits with a three digit hint floor.
func DefaultPolicy() Policy {
	return Policy{CodeLength: CodeLength, SoftFloor: SoftFloor}
}

// Orchestrator drives the backend cascade for one challenge at a time.
type Orchestrator struct {
	caps     Capabilities
	policy   Policy
	backends []Recognizer

	// Artifacts receives the original crop and every variant; nil disables.
	Artifacts artifacts.Sink
	// Observer is called for every recorded attempt.
	Observer func(occurrence string, a Attempt)
}

// NewOrchestrator orders backends by tier, keeping the given order within a
// tier.
func NewOrchestrator(caps Capabilities, policy Policy, backends ...Recognizer) *Orchestrator {
	if policy.CodeLength <= 0 {
		policy.CodeLength = CodeLength
	}
	if policy.SoftFloor <= 0 {
		policy.SoftFloor = SoftFloor
	}
	ordered := make([]Recognizer, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			ordered = append(ordered, b)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tier() < ordered[j].Tier() })
	return &Orchestrator{caps: caps, policy: policy, backends: ordered}
}

// Backends returns the cascade in execution order.
func (o *Orchestrator) Backends() []string {
	out := make([]string, 0, len(o.backends))
	for _, b := range o.backends {
		out = append(out, b.Name())
	}
	return out
}

// Resolve normalizes the captured region and runs the cascade. It returns
// the accepted code, or an error that is a *imaging.DecodeError, a
// *ChallengeFailure, or the context's error.
func (o *Orchestrator) Resolve(ctx context.Context, region imaging.CapturedRegion) (string, error) {
	res, err := imaging.Normalize(region, o.policy.Normalize)
	if err != nil {
		return "", err
	}
	ch := &Challenge{
		ID:          uuid.NewString(),
		Box:         res.Box,
		Variants:    res.Variants,
		Original:    res.Original,
		Substituted: res.Substituted,
	}
	if res.Substituted {
		logging.Get(logging.CategoryCapture).Warn("occurrence=%s degenerate box %+v, using %+v", ch.ID, region.Box, res.Box)
	}
	o.saveArtifacts(ctx, ch)

	cand, err := o.ResolveVariants(ctx, ch)
	if err != nil {
		return "", err
	}
	return cand.Digits, nil
}

func (o *Orchestrator) saveArtifacts(ctx context.Context, ch *Challenge) {
	if o.Artifacts == nil {
		return
	}
	log := logging.Get(logging.CategoryCapture)
	save := func(path string, img image.Image) {
		if err := artifacts.PutImage(ctx, o.Artifacts, ch.ID, path, img); err != nil {
			log.Warn("occurrence=%s saving %s failed, continuing: %v", ch.ID, path, err)
		}
	}
	save("original.png", ch.Original)
	for _, v := range ch.Variants {
		save("variants/"+v.Method+".png", v.Image)
	}
}

// ResolveVariants runs every enabled backend at most once, in order, until
// one produces exactly CodeLength digits.
func (o *Orchestrator) ResolveVariants(ctx context.Context, ch *Challenge) (*Candidate, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	log := logging.Get(logging.CategoryRecognize)
	failure := &ChallengeFailure{Occurrence: ch.ID}
	seen := make(map[string]bool, len(o.backends))

	for _, b := range o.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := b.Name()
		if !o.caps.Has(name) || seen[name] {
			continue
		}
		seen[name] = true

		cand, err := b.Recognize(ctx, ch)
		switch {
		case err == nil:
		case errors.Is(err, ErrBackendUnavailable):
			log.Debug("occurrence=%s backend=%s skipped: %v", ch.ID, name, err)
			continue
		case errors.Is(err, rendezvous.ErrTimeout):
			o.record(failure, Attempt{Backend: name, Outcome: OutcomeTimeout, Reason: err.Error()})
			failure.Cause = err
			log.Warn("occurrence=%s backend=%s variant=- reason=%v", ch.ID, name, err)
			return nil, failure
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			o.record(failure, Attempt{Backend: name, Outcome: OutcomeError, Reason: err.Error()})
			log.Warn("occurrence=%s backend=%s variant=- reason=%v", ch.ID, name, err)
			continue
		}

		if cand == nil || cand.Digits == "" {
			o.record(failure, Attempt{Backend: name, Outcome: OutcomeEmpty, Reason: "nothing recognizable"})
			log.Info("occurrence=%s backend=%s variant=- reason=nothing recognizable", ch.ID, name)
			continue
		}

		if phonetic.IsCode(cand.Digits, o.policy.CodeLength) {
			o.record(failure, Attempt{Backend: name, Variant: cand.Variant, Outcome: OutcomeAccepted, Digits: cand.Digits})
			log.Info("occurrence=%s accepted from backend=%s variant=%s", ch.ID, name, variantLabel(cand.Variant))
			return cand, nil
		}

		rej := &RejectedError{
			Backend: name,
			Variant: cand.Variant,
			Digits:  cand.Digits,
			Reason:  fmt.Sprintf("%d digits, need exactly %d", len(cand.Digits), o.policy.CodeLength),
		}
		outcome := OutcomeRejected
		if b.FreeText() && len(cand.Digits) >= o.policy.SoftFloor {
			outcome = OutcomePartial
			ch.Hints = append(ch.Hints, Hint{Backend: name, Digits: cand.Digits})
			if len(cand.Digits) > len(failure.BestPartial) {
				failure.BestPartial = cand.Digits
			}
		}
		o.record(failure, Attempt{Backend: name, Variant: cand.Variant, Outcome: outcome, Digits: cand.Digits, Reason: rej.Reason})
		log.Info("occurrence=%s backend=%s variant=%s reason=%v", ch.ID, name, variantLabel(cand.Variant), rej)
	}

	log.Warn("occurrence=%s exhausted %d attempts", ch.ID, len(failure.Attempts))
	return nil, failure
}

func (o *Orchestrator) record(f *ChallengeFailure, a Attempt) {
	f.Attempts = append(f.Attempts, a)
	if o.Observer != nil {
		o.Observer(f.Occurrence, a)
	}
}

func variantLabel(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
