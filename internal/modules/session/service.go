package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionActive is returned by Start when a session is already running.
	// The dashboard drives exactly one live session at a time.
	ErrSessionActive = errors.New("a session is already active")

	// ErrNoActiveSession is returned by operations that need a live session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrRowNotFound is returned when an edit or delete targets an unknown row.
	ErrRowNotFound = errors.New("history row not found")
)

// Service drives the live session against the prediction service and keeps
// the local mirror in sync. All operations are serialized by a mutex: the
// backend processes steps strictly in order, so concurrent submits from two
// browser tabs must not interleave.
type Service struct {
	mu      sync.Mutex
	current *domain.SessionState

	client domain.PredictorClient
	repo   *Repository
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates a new session service
func NewService(client domain.PredictorClient, repo *Repository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		client: client,
		repo:   repo,
		bus:    bus,
		log:    log.With().Str("service", "session").Logger(),
	}
}

// Start opens a new session on the prediction service. Fails with
// ErrSessionActive while another session is running; stop it first.
func (s *Service) Start(ctx context.Context, checkpoint string, datasetID int64, datasetName string, gameCapital, gameBet int) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Active {
		return nil, ErrSessionActive
	}

	result, err := s.client.StartSession(ctx, checkpoint, datasetID, gameCapital, gameBet)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	now := time.Now().UTC()
	prediction := result.Prediction
	state := &domain.SessionState{
		Config: domain.SessionConfig{
			SessionID:   result.SessionID,
			Checkpoint:  result.Checkpoint,
			DatasetID:   datasetID,
			DatasetName: datasetName,
			GameCapital: result.GameCapital,
			GameBet:     result.GameBet,
		},
		CurrentCapital: result.CurrentCapital,
		CurrentBet:     result.GameBet,
		Active:         true,
		LastPrediction: &prediction,
		Rows:           []domain.HistoryRow{},
		StartedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.SaveSession(state); err != nil {
		s.log.Error().Err(err).Str("session_id", state.Config.SessionID).Msg("Failed to persist new session")
	}

	s.current = state
	s.bus.Publish("session", &events.SessionStartedData{
		SessionID:   state.Config.SessionID,
		Checkpoint:  state.Config.Checkpoint,
		DatasetID:   datasetID,
		GameCapital: state.Config.GameCapital,
		GameBet:     state.Config.GameBet,
	})

	s.log.Info().
		Str("session_id", state.Config.SessionID).
		Str("checkpoint", checkpoint).
		Int64("dataset_id", datasetID).
		Msg("Session started")

	return s.snapshot(), nil
}

// Current returns a copy of the active session state.
func (s *Service) Current() (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoActiveSession
	}
	return s.snapshot(), nil
}

// Get returns a (possibly closed) session from the mirror by ID.
func (s *Service) Get(sessionID string) (*domain.SessionState, error) {
	return s.repo.GetSession(sessionID)
}

// List returns recent sessions from the mirror, newest first.
func (s *Service) List(limit int) ([]domain.SessionState, error) {
	return s.repo.ListSessions(limit)
}

// SubmitStep reports an observed extraction to the backend and records the
// resulting row. The extraction is clamped into the wheel's range before
// anything leaves the controller.
func (s *Service) SubmitStep(ctx context.Context, extraction int) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	extraction = domain.ClampExtraction(extraction)

	result, err := s.client.SubmitStep(ctx, s.current.Config.SessionID, extraction)
	if err != nil {
		return nil, fmt.Errorf("failed to submit step: %w", err)
	}

	row := rowFromStep(result, s.current.CurrentBet)
	s.current.Rows = append(s.current.Rows, row)
	s.current.CurrentCapital = result.CapitalAfter
	next := result.NextPrediction
	s.current.LastPrediction = &next
	s.current.UpdatedAt = time.Now().UTC()

	if err := s.repo.AppendRow(s.current.Config.SessionID, row); err != nil {
		s.log.Error().Err(err).Str("session_id", s.current.Config.SessionID).Msg("Failed to persist history row")
	}
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session state")
	}

	s.bus.Publish("session", &events.StepRecordedData{
		SessionID:       s.current.Config.SessionID,
		Step:            result.Step,
		Extraction:      result.RealExtraction,
		PredictedAction: result.PredictedAction,
		Reward:          result.Reward,
		CapitalAfter:    result.CapitalAfter,
		NextAction:      next.Action,
		NextDescription: next.Description,
	})

	return s.snapshot(), nil
}

// NextPrediction re-fetches the model's suggestion for the upcoming spin
// without submitting an outcome.
func (s *Service) NextPrediction(ctx context.Context) (*domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	prediction, err := s.client.NextPrediction(ctx, s.current.Config.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next prediction: %w", err)
	}

	s.current.LastPrediction = prediction
	s.current.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session state")
	}

	copied := *prediction
	return &copied, nil
}

// UpdateBet changes the per-spin bet for subsequent steps.
func (s *Service) UpdateBet(ctx context.Context, betAmount int) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	if err := s.client.UpdateBet(ctx, s.current.Config.SessionID, betAmount); err != nil {
		return nil, fmt.Errorf("failed to update bet: %w", err)
	}

	s.current.CurrentBet = betAmount
	s.current.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session state")
	}

	s.bus.Publish("session", &events.BetChangedData{
		SessionID: s.current.Config.SessionID,
		BetAmount: betAmount,
	})

	return s.snapshot(), nil
}

// SetNote attaches a free-text note to the active session (local only).
func (s *Service) SetNote(note string) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoActiveSession
	}

	s.current.Note = note
	s.current.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session note")
	}
	return s.snapshot(), nil
}

// EditStep corrects a previously recorded extraction and replays the whole
// history so every downstream prediction and capital value is recomputed.
func (s *Service) EditStep(ctx context.Context, rowID string, newExtraction int) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	idx := s.findRow(rowID)
	if idx < 0 {
		return nil, ErrRowNotFound
	}

	s.current.Rows[idx].Extraction = domain.ClampExtraction(newExtraction)
	if err := s.recomputeLocked(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// DeleteStep removes one recorded row and replays the remaining history.
func (s *Service) DeleteStep(ctx context.Context, rowID string) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	idx := s.findRow(rowID)
	if idx < 0 {
		return nil, ErrRowNotFound
	}

	s.current.Rows = append(s.current.Rows[:idx], s.current.Rows[idx+1:]...)
	if err := s.recomputeLocked(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Recompute tears down the backend session and replays the mirrored history
// from scratch. Useful when the dashboard suspects drift between mirror and
// backend.
func (s *Service) Recompute(ctx context.Context) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	if err := s.recomputeLocked(ctx); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// recomputeLocked replays s.current.Rows against a fresh backend session.
// Bet changes are re-issued in the same order they originally happened. The
// replay is not transactional: if the backend fails partway, the session
// keeps the rows replayed so far and LastError records what went wrong.
//
// Caller must hold s.mu.
func (s *Service) recomputeLocked(ctx context.Context) error {
	oldID := s.current.Config.SessionID
	cfg := s.current.Config
	planned := s.current.Rows
	started := time.Now()

	s.bus.Publish("session", &events.RecomputeStatusData{
		SessionID: oldID,
		Status:    "started",
	})

	// Best effort teardown; the old backend session may already be gone.
	if err := s.client.ShutdownSession(ctx, oldID); err != nil {
		s.log.Warn().Err(err).Str("session_id", oldID).Msg("Shutdown before replay failed, continuing")
	}

	result, err := s.client.StartSession(ctx, cfg.Checkpoint, cfg.DatasetID, cfg.GameCapital, cfg.GameBet)
	if err != nil {
		s.failRecompute(oldID, fmt.Errorf("failed to reopen session for replay: %w", err), started)
		return fmt.Errorf("failed to reopen session for replay: %w", err)
	}

	newID := result.SessionID
	replayed := make([]domain.HistoryRow, 0, len(planned))
	pendingBet := s.current.CurrentBet
	currentBet := cfg.GameBet
	currentCapital := result.CurrentCapital
	prediction := result.Prediction
	var replayErr error

	for _, row := range planned {
		if row.BetAmount != currentBet {
			if err := s.client.UpdateBet(ctx, newID, row.BetAmount); err != nil {
				replayErr = fmt.Errorf("failed to re-issue bet change at step %d: %w", row.Step, err)
				break
			}
			currentBet = row.BetAmount
		}

		stepResult, err := s.client.SubmitStep(ctx, newID, row.Extraction)
		if err != nil {
			replayErr = fmt.Errorf("failed to replay step %d: %w", row.Step, err)
			break
		}

		replayed = append(replayed, rowFromStep(stepResult, currentBet))
		currentCapital = stepResult.CapitalAfter
		prediction = stepResult.NextPrediction
	}

	// A bet changed after the last recorded step has no row to replay it
	// from; re-issue it so the new session carries the bet in force.
	if replayErr == nil && currentBet != pendingBet {
		if err := s.client.UpdateBet(ctx, newID, pendingBet); err != nil {
			replayErr = fmt.Errorf("failed to re-issue bet change after replay: %w", err)
		} else {
			currentBet = pendingBet
		}
	}

	// The mirror now tracks the new backend session.
	now := time.Now().UTC()
	s.current.Config.SessionID = newID
	s.current.Rows = replayed
	s.current.CurrentCapital = currentCapital
	s.current.CurrentBet = currentBet
	s.current.LastPrediction = &prediction
	s.current.UpdatedAt = now
	if replayErr != nil {
		s.current.LastError = replayErr.Error()
	} else {
		s.current.LastError = ""
	}

	if err := s.repo.MarkClosed(oldID, ""); err != nil {
		s.log.Error().Err(err).Str("session_id", oldID).Msg("Failed to close old session in mirror")
	}
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Str("session_id", newID).Msg("Failed to persist replayed session")
	}
	if err := s.repo.ReplaceRows(newID, replayed); err != nil {
		s.log.Error().Err(err).Str("session_id", newID).Msg("Failed to persist replayed rows")
	}

	duration := time.Since(started).Seconds()
	if replayErr != nil {
		s.log.Error().Err(replayErr).
			Str("old_session_id", oldID).
			Str("session_id", newID).
			Int("rows_replayed", len(replayed)).
			Msg("Recompute replay failed partway")
		s.bus.Publish("session", &events.RecomputeStatusData{
			SessionID:    newID,
			OldSessionID: oldID,
			Status:       "failed",
			RowsReplayed: len(replayed),
			Error:        replayErr.Error(),
			Duration:     duration,
		})
		return nil // partial state is surfaced via LastError, not an error return
	}

	s.log.Info().
		Str("old_session_id", oldID).
		Str("session_id", newID).
		Int("rows_replayed", len(replayed)).
		Msg("Recompute replay completed")
	s.bus.Publish("session", &events.RecomputeStatusData{
		SessionID:    newID,
		OldSessionID: oldID,
		Status:       "completed",
		RowsReplayed: len(replayed),
		Duration:     duration,
	})
	return nil
}

// failRecompute records a replay that could not even reopen a session.
// Caller must hold s.mu.
func (s *Service) failRecompute(oldID string, err error, started time.Time) {
	s.current.LastError = err.Error()
	s.current.UpdatedAt = time.Now().UTC()
	if saveErr := s.repo.SaveSession(s.current); saveErr != nil {
		s.log.Error().Err(saveErr).Msg("Failed to persist session state")
	}
	s.bus.Publish("session", &events.RecomputeStatusData{
		SessionID: oldID,
		Status:    "failed",
		Error:     err.Error(),
		Duration:  time.Since(started).Seconds(),
	})
}

// ClearRows wipes the active session's history on both sides while keeping
// the session open. Capital resets to the configured starting amount.
func (s *Service) ClearRows(ctx context.Context) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || !s.current.Active {
		return nil, ErrNoActiveSession
	}

	if err := s.client.ClearRows(ctx, s.current.Config.SessionID); err != nil {
		return nil, fmt.Errorf("failed to clear rows: %w", err)
	}

	s.current.Rows = []domain.HistoryRow{}
	s.current.CurrentCapital = s.current.Config.GameCapital
	s.current.LastError = ""
	s.current.UpdatedAt = time.Now().UTC()

	if err := s.repo.ClearRows(s.current.Config.SessionID); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear mirrored rows")
	}
	if err := s.repo.SaveSession(s.current); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session state")
	}

	s.bus.Publish("session", &events.RowsClearedData{SessionID: s.current.Config.SessionID})
	return s.snapshot(), nil
}

// Stop shuts down the active session. Idempotent: stopping when nothing is
// active is not an error, and a backend that already forgot the session is
// tolerated.
func (s *Service) Stop(ctx context.Context) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, nil
	}

	if s.current.Active {
		if err := s.client.ShutdownSession(ctx, s.current.Config.SessionID); err != nil {
			s.log.Warn().Err(err).Str("session_id", s.current.Config.SessionID).Msg("Backend shutdown failed, closing mirror anyway")
		}
	}

	s.current.Active = false
	s.current.UpdatedAt = time.Now().UTC()
	if err := s.repo.MarkClosed(s.current.Config.SessionID, s.current.LastError); err != nil {
		s.log.Error().Err(err).Msg("Failed to mark session closed")
	}

	s.bus.Publish("session", &events.SessionStoppedData{
		SessionID:    s.current.Config.SessionID,
		Steps:        len(s.current.Rows),
		FinalCapital: s.current.CurrentCapital,
	})

	state := s.snapshot()
	s.current = nil
	return state, nil
}

// RestoreOnStartup demotes stale active sessions left over from a previous
// run. The backend forgets sessions on restart, so the mirror must too.
func (s *Service) RestoreOnStartup() error {
	_, err := s.repo.DemoteActiveSessions()
	return err
}

// findRow returns the index of a row by ID, or -1. Caller must hold s.mu.
func (s *Service) findRow(rowID string) int {
	for i, row := range s.current.Rows {
		if row.RowID == rowID {
			return i
		}
	}
	return -1
}

// snapshot returns a deep copy of the current state. Caller must hold s.mu.
func (s *Service) snapshot() *domain.SessionState {
	state := *s.current
	state.Rows = make([]domain.HistoryRow, len(s.current.Rows))
	copy(state.Rows, s.current.Rows)
	if s.current.LastPrediction != nil {
		prediction := *s.current.LastPrediction
		state.LastPrediction = &prediction
	}
	return &state
}

// rowFromStep converts a backend step result into a mirrored history row.
func rowFromStep(result *domain.StepResult, betAmount int) domain.HistoryRow {
	return domain.HistoryRow{
		RowID:           uuid.NewString(),
		Step:            result.Step,
		BetAmount:       betAmount,
		Extraction:      result.RealExtraction,
		PredictedAction: result.PredictedAction,
		PredictedDesc:   result.PredictedDesc,
		Reward:          result.Reward,
		CapitalAfter:    result.CapitalAfter,
		CreatedAt:       time.Now().UTC(),
	}
}
