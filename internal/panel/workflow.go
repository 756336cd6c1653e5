package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vpsrenew/internal/artifacts"
	"vpsrenew/internal/config"
	"vpsrenew/internal/logging"
	"vpsrenew/internal/renewal"
)

// Outcome of a workflow run.
const (
	OutcomeRenewed = "renewed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ErrLoginRejected means the panel showed its login error.
var ErrLoginRejected = errors.New("login rejected by panel")

// ErrChallengeRejected means the panel refused every submitted code.
var ErrChallengeRejected = errors.New("challenge answer rejected by panel")

// StepError wraps the failure of one workflow step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Report summarizes a run.
type Report struct {
	RunID         string
	Decision      renewal.Decision
	Outcome       string
	Challenged    bool
	Rounds        int
	NewExpiration *time.Time
}

// Workflow drives one renewal attempt.
type Workflow struct {
	// RunID names the run in logs and artifacts; a fresh id when empty.
	RunID   string
	Driver  Driver
	Panel   config.PanelConfig
	Planner renewal.Planner
	Solver  Solver
	// Artifacts receives a full-page screenshot when a step fails.
	Artifacts artifacts.Sink
	// Force attempts the renewal even when the scheduler says it is early.
	Force bool
	// DryRun stops after the decision.
	DryRun bool
	// MaxRounds bounds how many codes are submitted when the panel rejects
	// one; each round captures a fresh challenge.
	MaxRounds int
	// CompletionTimeout bounds the wait for the completion page.
	CompletionTimeout time.Duration
	// PollInterval is the completion-page polling interval.
	PollInterval time.Duration
}

func (w *Workflow) rounds() int {
	if w.MaxRounds <= 0 {
		return 3
	}
	return w.MaxRounds
}

// Run executes the workflow. The report is filled as far as the run got,
// even when an error is returned.
func (w *Workflow) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: w.RunID, Outcome: OutcomeFailed}
	if rep.RunID == "" {
		rep.RunID = uuid.NewString()
	}
	log := logging.Get(logging.CategoryPanel).WithContext(map[string]interface{}{"run": rep.RunID})

	if err := w.login(ctx); err != nil {
		return rep, w.fail(ctx, rep, "login", err)
	}
	log.Info("logged in")

	if err := w.Driver.Navigate(ctx, w.Panel.ServerDetailURL()); err != nil {
		return rep, w.fail(ctx, rep, "detail", err)
	}
	texts, err := w.Driver.PageTexts(ctx, w.Panel.ExpirationHints)
	if err != nil {
		log.Warn("reading expiration candidates failed: %v", err)
	}
	rep.Decision = w.Planner.DecideRenewal(texts)

	if !rep.Decision.Attempt && !w.Force {
		rep.Outcome = OutcomeSkipped
		log.Info("skipping renewal: %s", rep.Decision.Reason)
		return rep, nil
	}
	if w.DryRun {
		rep.Outcome = OutcomeSkipped
		log.Info("dry run, would renew: %s", rep.Decision.Reason)
		return rep, nil
	}

	sel := w.Panel.Selectors
	for _, step := range []struct{ name, selector string }{
		{"renew", sel.RenewButton},
		{"continue", sel.ContinueButton},
		{"confirm", sel.ConfirmButton},
	} {
		if err := w.Driver.Click(ctx, step.selector); err != nil {
			return rep, w.fail(ctx, rep, step.name, err)
		}
		log.Info("clicked %s", step.name)
	}

	if sel.ChallengeMarker != "" && w.Driver.Exists(ctx, sel.ChallengeMarker) {
		rep.Challenged = true
		if err := w.solveChallenge(ctx, rep); err != nil {
			return rep, w.fail(ctx, rep, "challenge", err)
		}
	} else {
		log.Info("no challenge shown")
	}

	if err := w.waitCompletion(ctx); err != nil {
		return rep, w.fail(ctx, rep, "complete", err)
	}
	if sel.DoneButton != "" && w.Driver.Exists(ctx, sel.DoneButton) {
		if err := w.Driver.Click(ctx, sel.DoneButton); err != nil {
			log.Warn("closing completion dialog failed: %v", err)
		}
	}
	rep.Outcome = OutcomeRenewed

	if err := w.Driver.Navigate(ctx, w.Panel.ServerDetailURL()); err != nil {
		log.Warn("reloading detail page failed: %v", err)
		return rep, nil
	}
	if texts, err := w.Driver.PageTexts(ctx, w.Panel.ExpirationHints); err == nil {
		if exp, ok := renewal.ParseExpiration(texts, w.Planner.Location); ok {
			rep.NewExpiration = exp
			log.Info("new expiration %s", exp.Format(renewal.ExpirationLayout))
		}
	}
	return rep, nil
}

func (w *Workflow) login(ctx context.Context) error {
	sel := w.Panel.Selectors
	if err := w.Driver.Navigate(ctx, w.Panel.LoginURL); err != nil {
		return err
	}
	if err := w.Driver.SubmitText(ctx, sel.UsernameField, w.Panel.Username); err != nil {
		return err
	}
	if err := w.Driver.SubmitText(ctx, sel.PasswordField, w.Panel.Password); err != nil {
		return err
	}
	if err := w.Driver.Click(ctx, sel.LoginButton); err != nil {
		return err
	}
	if sel.LoginError != "" && w.Driver.Exists(ctx, sel.LoginError) {
		return ErrLoginRejected
	}
	if w.Panel.LoggedInURL != "" {
		url, err := w.Driver.CurrentURL(ctx)
		if err == nil && !strings.HasPrefix(url, w.Panel.LoggedInURL) {
			logging.Get(logging.CategoryPanel).Warn("unexpected URL after login: %s", url)
		}
	}
	return nil
}

// solveChallenge captures, resolves and submits until the panel stops
// showing an error marker or the rounds run out.
func (w *Workflow) solveChallenge(ctx context.Context, rep *Report) error {
	if w.Solver == nil {
		return errors.New("no challenge solver configured")
	}
	sel := w.Panel.Selectors
	log := logging.Get(logging.CategoryPanel)

	for round := 1; round <= w.rounds(); round++ {
		rep.Rounds = round
		region, err := w.Driver.CaptureRegion(ctx, sel.ChallengeImage)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		code, err := w.Solver.Resolve(ctx, region)
		if err != nil {
			return err
		}
		if err := w.Driver.SubmitText(ctx, sel.ChallengeInput, code); err != nil {
			return err
		}
		if err := w.Driver.Click(ctx, sel.SubmitButton); err != nil {
			return err
		}

		rejected, err := w.answerRejected(ctx)
		if err != nil {
			log.Warn("could not check for challenge errors: %v", err)
		}
		if !rejected {
			log.Info("challenge accepted on round %d", round)
			return nil
		}
		log.Warn("panel rejected code on round %d", round)
		if !w.Driver.Exists(ctx, sel.ChallengeImage) {
			break
		}
	}
	return ErrChallengeRejected
}

// answerRejected looks for the panel's error wording while the page is
// still not the completion page.
func (w *Workflow) answerRejected(ctx context.Context) (bool, error) {
	if w.onCompletionPage(ctx) {
		return false, nil
	}
	body, err := w.Driver.BodyText(ctx)
	if err != nil {
		return false, err
	}
	return ContainsAny(body, w.Panel.ErrorMarkers), nil
}

func (w *Workflow) onCompletionPage(ctx context.Context) bool {
	url, err := w.Driver.CurrentURL(ctx)
	if err != nil {
		return false
	}
	return (w.Panel.CompletePath != "" && strings.Contains(url, w.Panel.CompletePath)) ||
		strings.HasPrefix(url, w.Panel.ServerDetailURL())
}

func (w *Workflow) waitCompletion(ctx context.Context) error {
	timeout := w.CompletionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if w.onCompletionPage(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			url, _ := w.Driver.CurrentURL(ctx)
			return fmt.Errorf("completion page not reached after %s (at %s)", timeout, url)
		case <-ticker.C:
		}
	}
}

func (w *Workflow) fail(ctx context.Context, rep *Report, step string, err error) error {
	log := logging.Get(logging.CategoryPanel)
	log.Error("run %s failed at %s: %v", rep.RunID, step, err)
	if w.Artifacts != nil {
		name := "failure-" + step + ".png"
		shot, shotErr := w.Driver.Screenshot(ctx)
		if shotErr == nil {
			shotErr = w.Artifacts.Put(ctx, rep.RunID, name, shot)
		}
		if shotErr != nil {
			log.Warn("run %s: %s not saved: %v", rep.RunID, name, shotErr)
		}
	}
	return &StepError{Step: step, Err: err}
}

// ContainsAny reports whether text contains one of markers.
func ContainsAny(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}
