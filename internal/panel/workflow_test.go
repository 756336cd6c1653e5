package panel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"vpsrenew/internal/artifacts"
	"vpsrenew/internal/config"
	"vpsrenew/internal/imaging"
	"vpsrenew/internal/logging"
	"vpsrenew/internal/recognize"
	"vpsrenew/internal/renewal"
)

// fakeDriver simulates the panel. Clicking the submit button moves to the
// completion page once the expected code was typed.
type fakeDriver struct {
	panel config.PanelConfig

	url        string
	present    map[string]bool
	expiration string
	wantCode   string
	loginFails bool
	failClick  string
	shotErr    error

	typed   map[string]string
	clicks  []string
	body    string
	shots   int
	submits int
}

func newFakeDriver(p config.PanelConfig) *fakeDriver {
	return &fakeDriver{
		panel:      p,
		present:    map[string]bool{},
		typed:      map[string]string{},
		expiration: "2025-03-01 12:00",
	}
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.url = url
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, selector string) error {
	if selector == f.failClick {
		return errors.New("element not found")
	}
	f.clicks = append(f.clicks, selector)
	s := f.panel.Selectors
	switch selector {
	case s.LoginButton:
		if f.loginFails {
			f.present[s.LoginError] = true
			return nil
		}
		f.url = f.panel.LoggedInURL
	case s.RenewButton:
		f.url = "https://panel.example/xapanel/xvps/server/freevps/extend/index"
	case s.ContinueButton:
		f.url = "https://panel.example" + f.panel.ConfirmPath
	case s.ConfirmButton:
		if f.wantCode != "" {
			f.present[s.ChallengeMarker] = true
			f.present[s.ChallengeImage] = true
		} else {
			f.url = "https://panel.example" + f.panel.CompletePath
		}
	case s.SubmitButton:
		f.submits++
		if f.typed[s.ChallengeInput] == f.wantCode {
			f.url = "https://panel.example" + f.panel.CompletePath
			f.present[s.DoneButton] = true
			f.body = ""
		} else {
			f.body = "画像認証の入力が正しくありません"
		}
	}
	return nil
}

func (f *fakeDriver) Exists(ctx context.Context, selector string) bool { return f.present[selector] }

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }

func (f *fakeDriver) BodyText(ctx context.Context) (string, error) { return f.body, nil }

func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	f.shots++
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("png"), nil
}

func (f *fakeDriver) CaptureRegion(ctx context.Context, selector string) (imaging.CapturedRegion, error) {
	return imaging.CapturedRegion{Frame: []byte("frame")}, nil
}

func (f *fakeDriver) PageTexts(ctx context.Context, hints []string) ([]string, error) {
	return []string{"プラン 無料", "利用期限 " + f.expiration}, nil
}

func (f *fakeDriver) SubmitText(ctx context.Context, field, text string) error {
	f.typed[field] = text
	return nil
}

func (f *fakeDriver) Now() time.Time { return time.Now() }

// queueSolver returns codes in order.
type queueSolver struct {
	codes []string
	err   error
	calls int
}

func (q *queueSolver) Resolve(ctx context.Context, region imaging.CapturedRegion) (string, error) {
	q.calls++
	if q.err != nil {
		return "", q.err
	}
	c := q.codes[0]
	if len(q.codes) > 1 {
		q.codes = q.codes[1:]
	}
	return c, nil
}

func testPanel() config.PanelConfig {
	p := config.DefaultPanelConfig()
	p.Username, p.Password, p.ServerID = "user", "pass", "42"
	return p
}

func testWorkflow(d *fakeDriver, s Solver, now time.Time) *Workflow {
	return &Workflow{
		Driver: d,
		Panel:  d.panel,
		Planner: renewal.Planner{
			Clock:          renewal.ClockFunc(func() time.Time { return now }),
			Location:       time.UTC,
			ThresholdHours: 12,
		},
		Solver:            s,
		CompletionTimeout: 200 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

var beforeExpiry = time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

func TestWorkflowRenewsWithChallenge(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.wantCode = "369218"
	solver := &queueSolver{codes: []string{"369218"}}
	w := testWorkflow(d, solver, beforeExpiry)

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRenewed, rep.Outcome)
	assert.True(t, rep.Challenged)
	assert.Equal(t, 1, rep.Rounds)
	assert.Equal(t, renewal.InWindow, rep.Decision.State)
	assert.Equal(t, "user", d.typed[d.panel.Selectors.UsernameField])
	assert.Equal(t, "369218", d.typed[d.panel.Selectors.ChallengeInput])
	assert.Contains(t, d.clicks, d.panel.Selectors.DoneButton)
	require.NotNil(t, rep.NewExpiration)
	assert.Equal(t, d.panel.ServerDetailURL(), d.url)
}

func TestWorkflowRetriesRejectedCode(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.wantCode = "369218"
	solver := &queueSolver{codes: []string{"111111", "369218"}}
	w := testWorkflow(d, solver, beforeExpiry)

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Rounds)
	assert.Equal(t, 2, d.submits)
}

func TestWorkflowGivesUpAfterMaxRounds(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.wantCode = "369218"
	w := testWorkflow(d, &queueSolver{codes: []string{"000000"}}, beforeExpiry)
	w.MaxRounds = 2
	w.Artifacts = artifacts.NewDirSink(t.TempDir())

	rep, err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrChallengeRejected)
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "challenge", se.Step)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, 2, rep.Rounds)
	assert.Equal(t, 1, d.shots)
}

func TestWorkflowPropagatesChallengeFailure(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.wantCode = "369218"
	cf := &recognize.ChallengeFailure{Occurrence: "o"}
	w := testWorkflow(d, &queueSolver{err: cf}, beforeExpiry)

	_, err := w.Run(context.Background())
	var got *recognize.ChallengeFailure
	assert.True(t, errors.As(err, &got))
}

func TestWorkflowSkipsWhenEarly(t *testing.T) {
	d := newFakeDriver(testPanel())
	solver := &queueSolver{codes: []string{"123456"}}
	early := time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)
	w := testWorkflow(d, solver, early)

	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	assert.Equal(t, renewal.BeforeWindow, rep.Decision.State)
	require.NotNil(t, rep.Decision.NextCheck)
	assert.NotContains(t, d.clicks, d.panel.Selectors.RenewButton)
	assert.Equal(t, 0, solver.calls)
}

func TestWorkflowForceAndDryRun(t *testing.T) {
	early := time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)

	d := newFakeDriver(testPanel())
	w := testWorkflow(d, &queueSolver{codes: []string{"123456"}}, early)
	w.Force = true
	rep, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRenewed, rep.Outcome)
	assert.False(t, rep.Challenged)

	d = newFakeDriver(testPanel())
	w = testWorkflow(d, nil, beforeExpiry)
	w.DryRun = true
	rep, err = w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	assert.True(t, rep.Decision.Attempt)
	assert.NotContains(t, d.clicks, d.panel.Selectors.RenewButton)
}

func TestWorkflowLoginRejected(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.loginFails = true
	_, err := testWorkflow(d, nil, beforeExpiry).Run(context.Background())
	assert.ErrorIs(t, err, ErrLoginRejected)
}

func TestWorkflowMissingButton(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.failClick = d.panel.Selectors.ContinueButton
	_, err := testWorkflow(d, nil, beforeExpiry).Run(context.Background())
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "continue", se.Step)
}

type rejectingSink struct{ artifacts.Nop }

func (rejectingSink) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func TestWorkflowFailureScreenshotErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logging.InitializeWith(zap.New(core), nil)
	t.Cleanup(func() { logging.InitializeWith(nil, nil) })

	tests := []struct {
		name    string
		sink    artifacts.Sink
		shotErr error
		want    string
	}{
		{"sink rejects write", rejectingSink{}, nil, "disk full"},
		{"screenshot fails", artifacts.Nop{}, errors.New("page crashed"), "page crashed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver(testPanel())
			d.failClick = d.panel.Selectors.ContinueButton
			d.shotErr = tt.shotErr
			w := testWorkflow(d, nil, beforeExpiry)
			w.Artifacts = tt.sink
			w.RunID = "run-" + strings.ReplaceAll(tt.name, " ", "-")

			_, err := w.Run(context.Background())
			var se *StepError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "continue", se.Step)
			assert.Equal(t, 1, d.shots)

			warned := logs.FilterLoggerName(string(logging.CategoryPanel)).
				FilterLevelExact(zapcore.WarnLevel).
				FilterMessageSnippet(w.RunID).All()
			require.Len(t, warned, 1)
			assert.Contains(t, warned[0].Message, "failure-continue.png")
			assert.Contains(t, warned[0].Message, tt.want)
		})
	}
}

func TestWorkflowCompletionTimeout(t *testing.T) {
	d := newFakeDriver(testPanel())
	d.panel.CompletePath = "/never"
	w := testWorkflow(d, nil, beforeExpiry)
	w.Panel.CompletePath = "/elsewhere"
	_, err := w.Run(context.Background())
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "complete", se.Step)
	assert.True(t, strings.Contains(err.Error(), "completion page not reached"))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("入力が正しくありません", []string{"エラー", "正しく"}))
	assert.False(t, ContainsAny("完了しました", []string{"エラー", ""}))
}
