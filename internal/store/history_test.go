package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)

	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2025, 2, 28, 13, 0, 0, 0, time.UTC)
	require.NoError(t, h.StartRun(ctx, Run{ID: "r1", StartedAt: start, Expiration: &exp}))

	newExp := exp.Add(48 * time.Hour)
	done := start.Add(3 * time.Minute)
	require.NoError(t, h.FinishRun(ctx, Run{
		ID: "r1", FinishedAt: &done, State: "IN_WINDOW", Attempted: true,
		Outcome: "renewed", Expiration: &exp, NewExpiration: &newExp,
	}))

	got, err := h.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.StartedAt.Equal(start))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(done))
	assert.Equal(t, "IN_WINDOW", got.State)
	assert.True(t, got.Attempted)
	assert.Equal(t, "renewed", got.Outcome)
	require.NotNil(t, got.NewExpiration)
	assert.True(t, got.NewExpiration.Equal(newExp))
}

func TestHistoryFinishUnknownRun(t *testing.T) {
	h := openTestHistory(t)
	err := h.FinishRun(context.Background(), Run{ID: "nope"})
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = h.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHistoryRecentOrdering(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.StartRun(ctx, Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Nil(t, runs[0].Expiration)
}

func TestHistoryAttempts(t *testing.T) {
	ctx := context.Background()
	h := openTestHistory(t)
	require.NoError(t, h.StartRun(ctx, Run{ID: "r"}))

	require.NoError(t, h.RecordAttempts(ctx, []ChallengeRecord{
		{RunID: "r", Occurrence: "o1", Backend: "local", Variant: "otsu", Outcome: "rejected", Digits: "36", Reason: "2 digits"},
		{RunID: "r", Occurrence: "o1", Backend: "gemini", Outcome: "accepted", Digits: "369218"},
	}))
	require.NoError(t, h.RecordAttempts(ctx, nil))

	got, err := h.Attempts(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "otsu", got[0].Variant)
	assert.Equal(t, "accepted", got[1].Outcome)
	assert.False(t, got[1].CreatedAt.IsZero())
}

func TestMigrationAddsVariantColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE challenge_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL, occurrence TEXT NOT NULL,
		backend TEXT NOT NULL, outcome TEXT NOT NULL, digits TEXT DEFAULT '', reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	assert.False(t, columnExists(db, "challenge_attempts", "variant"))
	require.NoError(t, db.Close())

	h, err := OpenHistory(path)
	require.NoError(t, err)
	defer h.Close()
	assert.True(t, columnExists(h.db, "challenge_attempts", "variant"))
	assert.True(t, tableExists(h.db, "runs"))
	assert.False(t, tableExists(h.db, "missing"))
}
