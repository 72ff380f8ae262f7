package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend simulates the prediction service: deterministic predictions,
// flat reward when the prediction matches and -bet otherwise.
type fakeBackend struct {
	sessionsStarted int
	sessions        map[string]*fakeBackendSession
	nextAction      int

	// failOnStep makes SubmitStep fail when a session reaches this step.
	failOnStep int
}

type fakeBackendSession struct {
	step    int
	bet     int
	capital int
	open    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*fakeBackendSession), nextAction: 17}
}

func (f *fakeBackend) StartSession(_ context.Context, checkpoint string, _ int64, gameCapital, gameBet int) (*domain.StartResult, error) {
	f.sessionsStarted++
	id := fmt.Sprintf("fake-%d", f.sessionsStarted)
	f.sessions[id] = &fakeBackendSession{bet: gameBet, capital: gameCapital, open: true}
	return &domain.StartResult{
		SessionID:      id,
		Checkpoint:     checkpoint,
		GameCapital:    gameCapital,
		GameBet:        gameBet,
		CurrentCapital: gameCapital,
		Prediction:     domain.Prediction{Action: f.nextAction, Description: "straight"},
	}, nil
}

func (f *fakeBackend) SubmitStep(_ context.Context, sessionID string, extraction int) (*domain.StepResult, error) {
	sess, ok := f.sessions[sessionID]
	if !ok || !sess.open {
		return nil, errors.New("unknown session")
	}
	sess.step++
	if f.failOnStep > 0 && sess.step >= f.failOnStep {
		return nil, errors.New("backend exploded")
	}

	reward := -sess.bet
	if extraction == f.nextAction {
		reward = sess.bet * 35
	}
	sess.capital += reward

	return &domain.StepResult{
		SessionID:       sessionID,
		Step:            sess.step,
		RealExtraction:  extraction,
		PredictedAction: f.nextAction,
		PredictedDesc:   "straight",
		Reward:          reward,
		CapitalAfter:    sess.capital,
		NextPrediction:  domain.Prediction{Action: f.nextAction, Description: "straight"},
	}, nil
}

func (f *fakeBackend) NextPrediction(_ context.Context, sessionID string) (*domain.Prediction, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, errors.New("unknown session")
	}
	return &domain.Prediction{Action: f.nextAction, Description: "straight"}, nil
}

func (f *fakeBackend) UpdateBet(_ context.Context, sessionID string, betAmount int) error {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	sess.bet = betAmount
	return nil
}

func (f *fakeBackend) ClearRows(_ context.Context, sessionID string) error {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	sess.step = 0
	sess.capital = 0
	return nil
}

func (f *fakeBackend) ShutdownSession(_ context.Context, sessionID string) error {
	if sess, ok := f.sessions[sessionID]; ok {
		sess.open = false
	}
	return nil
}

func (f *fakeBackend) ClearContext(context.Context) error { return nil }

func (f *fakeBackend) ListCheckpoints(context.Context) ([]string, error) {
	return []string{"FAIRS_v3"}, nil
}
func (f *fakeBackend) DeleteCheckpoint(context.Context, string) error { return nil }
func (f *fakeBackend) ListDatasets(context.Context) ([]domain.DatasetInfo, error) {
	return nil, nil
}
func (f *fakeBackend) ListDatasetSummaries(context.Context) ([]domain.DatasetInfo, error) {
	return nil, nil
}
func (f *fakeBackend) DeleteDataset(context.Context, string) error { return nil }
func (f *fakeBackend) UploadDataset(context.Context, string, string, string, io.Reader) (*domain.UploadResult, error) {
	return nil, nil
}
func (f *fakeBackend) ListTables(context.Context) ([]domain.TableStats, error) { return nil, nil }
func (f *fakeBackend) GetTableData(context.Context, string, int) (*domain.TablePage, error) {
	return nil, nil
}
func (f *fakeBackend) GetTableStats(context.Context, string) (*domain.TableStats, error) {
	return nil, nil
}
func (f *fakeBackend) IsReachable(context.Context) bool { return true }

func setupTestService(t *testing.T) (*Service, *fakeBackend) {
	backend := newFakeBackend()
	repo := setupTestRepo(t)
	bus := events.NewBus(zerolog.Nop())
	return NewService(backend, repo, bus, zerolog.Nop()), backend
}

func TestStartRejectsSecondSession(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, 1000, state.CurrentCapital)
	require.NotNil(t, state.LastPrediction)
	assert.Equal(t, 17, state.LastPrediction.Action)

	_, err = svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestSubmitStepRecordsRowAndClampsExtraction(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)

	// 99 is off the wheel; it must be clamped to 36 before it reaches the backend.
	state, err := svc.SubmitStep(ctx, 99)
	require.NoError(t, err)

	require.Len(t, state.Rows, 1)
	assert.Equal(t, 36, state.Rows[0].Extraction)
	assert.Equal(t, 1, state.Rows[0].Step)
	assert.Equal(t, -10, state.Rows[0].Reward)
	assert.Equal(t, 990, state.CurrentCapital)

	// Winning spin: the fake predicts 17.
	state, err = svc.SubmitStep(ctx, 17)
	require.NoError(t, err)
	assert.Equal(t, 350, state.Rows[1].Reward)
	assert.Equal(t, 1340, state.CurrentCapital)
}

func TestSubmitStepWithoutSessionFails(t *testing.T) {
	svc, _ := setupTestService(t)
	_, err := svc.SubmitStep(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestUpdateBetAffectsSubsequentRows(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)

	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)

	state, err := svc.UpdateBet(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, state.CurrentBet)

	state, err = svc.SubmitStep(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 10, state.Rows[0].BetAmount)
	assert.Equal(t, 25, state.Rows[1].BetAmount)
	assert.Equal(t, -25, state.Rows[1].Reward)
}

func TestEditStepReplaysWholeHistory(t *testing.T) {
	svc, backend := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 8)
	require.NoError(t, err)
	state, err := svc.SubmitStep(ctx, 12)
	require.NoError(t, err)

	oldSessionID := state.Config.SessionID

	// Correct the second spin to the winning number.
	state, err = svc.EditStep(ctx, state.Rows[1].RowID, 17)
	require.NoError(t, err)

	// A fresh backend session was opened and all three rows replayed.
	assert.Equal(t, 2, backend.sessionsStarted)
	assert.NotEqual(t, oldSessionID, state.Config.SessionID)
	require.Len(t, state.Rows, 3)
	assert.Equal(t, 17, state.Rows[1].Extraction)
	assert.Equal(t, 350, state.Rows[1].Reward)
	assert.Equal(t, []int{1, 2, 3}, []int{state.Rows[0].Step, state.Rows[1].Step, state.Rows[2].Step})
	// 1000 - 10 + 350 - 10
	assert.Equal(t, 1330, state.CurrentCapital)
	assert.Empty(t, state.LastError)

	// The mirror moved to the new session and the old one is closed.
	old, err := svc.Get(oldSessionID)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.False(t, old.Active)

	persisted, err := svc.Get(state.Config.SessionID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Len(t, persisted.Rows, 3)
}

func TestEditStepUnknownRow(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)

	_, err = svc.EditStep(ctx, "missing", 5)
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestDeleteStepRemovesRowAndRenumbers(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)
	state, err := svc.SubmitStep(ctx, 8)
	require.NoError(t, err)

	state, err = svc.DeleteStep(ctx, state.Rows[0].RowID)
	require.NoError(t, err)

	require.Len(t, state.Rows, 1)
	assert.Equal(t, 8, state.Rows[0].Extraction)
	assert.Equal(t, 1, state.Rows[0].Step)
	assert.Equal(t, 990, state.CurrentCapital)
}

func TestRecomputeReplaysBetChangesInOrder(t *testing.T) {
	svc, backend := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)
	_, err = svc.UpdateBet(ctx, 50)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 8)
	require.NoError(t, err)

	state, err := svc.Recompute(ctx)
	require.NoError(t, err)

	require.Len(t, state.Rows, 2)
	assert.Equal(t, 10, state.Rows[0].BetAmount)
	assert.Equal(t, 50, state.Rows[1].BetAmount)
	assert.Equal(t, -50, state.Rows[1].Reward)
	assert.Equal(t, 50, state.CurrentBet)
	assert.Equal(t, 940, state.CurrentCapital)
	assert.Equal(t, 2, backend.sessionsStarted)
}

func TestRecomputeKeepsBetChangedAfterLastStep(t *testing.T) {
	svc, backend := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)

	// The bet changed after the last spin, so no row carries it yet.
	_, err = svc.UpdateBet(ctx, 50)
	require.NoError(t, err)

	state, err := svc.Recompute(ctx)
	require.NoError(t, err)

	require.Len(t, state.Rows, 1)
	assert.Equal(t, 10, state.Rows[0].BetAmount)
	assert.Equal(t, 50, state.CurrentBet)
	assert.Empty(t, state.LastError)

	// The new backend session was re-issued the pending bet too.
	assert.Equal(t, 50, backend.sessions[state.Config.SessionID].bet)
}

func TestRecomputePartialFailureKeepsReplayedRows(t *testing.T) {
	svc, backend := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 8)
	require.NoError(t, err)
	state, err := svc.SubmitStep(ctx, 12)
	require.NoError(t, err)
	require.Len(t, state.Rows, 3)

	// The replayed session will die on its second step.
	backend.failOnStep = 2

	state, err = svc.Recompute(ctx)
	require.NoError(t, err)

	require.Len(t, state.Rows, 1)
	assert.Contains(t, state.LastError, "failed to replay step")
	assert.True(t, state.Active)
	assert.Equal(t, 990, state.CurrentCapital)
}

func TestNextPredictionPersistsSessionState(t *testing.T) {
	backend := newFakeBackend()
	repo := setupTestRepo(t)
	bus := events.NewBus(zerolog.Nop())
	svc := NewService(backend, repo, bus, zerolog.Nop())
	ctx := context.Background()

	started, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)

	// Backdate the mirror so a missing save is visible.
	_, err = repo.db.Exec(`UPDATE sessions SET updated_at = '2000-01-01T00:00:00Z' WHERE session_id = ?`, started.Config.SessionID)
	require.NoError(t, err)

	prediction, err := svc.NextPrediction(ctx)
	require.NoError(t, err)
	assert.Equal(t, 17, prediction.Action)

	persisted, err := repo.GetSession(started.Config.SessionID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Greater(t, persisted.UpdatedAt.Year(), 2000)
}

func TestClearRowsResetsCapital(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)
	_, err = svc.SubmitStep(ctx, 3)
	require.NoError(t, err)

	state, err := svc.ClearRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Rows)
	assert.Equal(t, 1000, state.CurrentCapital)
	assert.True(t, state.Active)
}

func TestStopIsIdempotent(t *testing.T) {
	svc, backend := setupTestService(t)
	ctx := context.Background()

	started, err := svc.Start(ctx, "FAIRS_v3", 7, "casino_a", 1000, 10)
	require.NoError(t, err)

	state, err := svc.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Active)
	assert.False(t, backend.sessions[started.Config.SessionID].open)

	// No session anymore: a second stop is a no-op, not an error.
	state, err = svc.Stop(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = svc.Current()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRestoreOnStartupDemotesMirror(t *testing.T) {
	backend := newFakeBackend()
	repo := setupTestRepo(t)
	bus := events.NewBus(zerolog.Nop())

	stale := testState("stale")
	require.NoError(t, repo.SaveSession(stale))

	svc := NewService(backend, repo, bus, zerolog.Nop())
	require.NoError(t, svc.RestoreOnStartup())

	active, err := repo.GetActiveSession()
	require.NoError(t, err)
	assert.Nil(t, active)
}
