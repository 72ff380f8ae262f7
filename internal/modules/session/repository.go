package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/croupier/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists the dashboard's mirror of sessions and their row
// history. The prediction service owns the authoritative state; this mirror
// is what survives restarts and feeds the stats endpoints.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new session repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "session").Logger(),
	}
}

// SaveSession inserts or updates a session record (rows are managed
// separately via AppendRow/ReplaceRows).
func (r *Repository) SaveSession(state *domain.SessionState) error {
	query := `INSERT INTO sessions (session_id, checkpoint, dataset_id, dataset_name,
		game_capital, game_bet, current_capital, current_bet, active, last_error, note,
		started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_capital = excluded.current_capital,
			current_bet = excluded.current_bet,
			active = excluded.active,
			last_error = excluded.last_error,
			note = excluded.note,
			updated_at = excluded.updated_at`

	_, err := r.db.Exec(query,
		state.Config.SessionID,
		state.Config.Checkpoint,
		state.Config.DatasetID,
		state.Config.DatasetName,
		state.Config.GameCapital,
		state.Config.GameBet,
		state.CurrentCapital,
		state.CurrentBet,
		boolToInt(state.Active),
		state.LastError,
		state.Note,
		state.StartedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns a session with its full row history, or nil if unknown.
func (r *Repository) GetSession(sessionID string) (*domain.SessionState, error) {
	row := r.db.QueryRow(`SELECT session_id, checkpoint, dataset_id, dataset_name,
		game_capital, game_bet, current_capital, current_bet, active, last_error, note,
		started_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)

	state, err := r.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	rows, err := r.GetRows(sessionID)
	if err != nil {
		return nil, err
	}
	state.Rows = rows
	return state, nil
}

// GetActiveSession returns the active session with rows, or nil when no
// session is active.
func (r *Repository) GetActiveSession() (*domain.SessionState, error) {
	row := r.db.QueryRow(`SELECT session_id, checkpoint, dataset_id, dataset_name,
		game_capital, game_bet, current_capital, current_bet, active, last_error, note,
		started_at, updated_at
		FROM sessions WHERE active = 1 ORDER BY updated_at DESC LIMIT 1`)

	state, err := r.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}

	rows, err := r.GetRows(state.Config.SessionID)
	if err != nil {
		return nil, err
	}
	state.Rows = rows
	return state, nil
}

// ListSessions returns recent sessions (without row history), newest first.
func (r *Repository) ListSessions(limit int) ([]domain.SessionState, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`SELECT session_id, checkpoint, dataset_id, dataset_name,
		game_capital, game_bet, current_capital, current_bet, active, last_error, note,
		started_at, updated_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.SessionState
	for rows.Next() {
		state, err := r.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// GetRows returns a session's row history ordered by step.
func (r *Repository) GetRows(sessionID string) ([]domain.HistoryRow, error) {
	rows, err := r.db.Query(`SELECT row_id, step, bet_amount, extraction,
		predicted_action, predicted_desc, reward, capital_after, created_at
		FROM history_rows WHERE session_id = ? ORDER BY step ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history rows: %w", err)
	}
	defer rows.Close()

	history := []domain.HistoryRow{}
	for rows.Next() {
		var row domain.HistoryRow
		var createdAt string
		if err := rows.Scan(&row.RowID, &row.Step, &row.BetAmount, &row.Extraction,
			&row.PredictedAction, &row.PredictedDesc, &row.Reward, &row.CapitalAfter,
			&createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		row.CreatedAt = parseTime(createdAt)
		history = append(history, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return history, nil
}

// AppendRow stores one new history row for a session.
func (r *Repository) AppendRow(sessionID string, row domain.HistoryRow) error {
	_, err := r.db.Exec(`INSERT INTO history_rows (row_id, session_id, step, bet_amount,
		extraction, predicted_action, predicted_desc, reward, capital_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RowID, sessionID, row.Step, row.BetAmount, row.Extraction,
		row.PredictedAction, row.PredictedDesc, row.Reward, row.CapitalAfter,
		row.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}
	return nil
}

// ReplaceRows atomically swaps a session's entire row history. Used after a
// recompute replay, where every step index and capital value changes.
func (r *Repository) ReplaceRows(sessionID string, history []domain.HistoryRow) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM history_rows WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete history rows: %w", err)
	}

	for _, row := range history {
		if _, err := tx.Exec(`INSERT INTO history_rows (row_id, session_id, step, bet_amount,
			extraction, predicted_action, predicted_desc, reward, capital_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.RowID, sessionID, row.Step, row.BetAmount, row.Extraction,
			row.PredictedAction, row.PredictedDesc, row.Reward, row.CapitalAfter,
			row.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to insert history row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row replacement: %w", err)
	}
	return nil
}

// ClearRows deletes all history rows for a session.
func (r *Repository) ClearRows(sessionID string) error {
	if _, err := r.db.Exec(`DELETE FROM history_rows WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear history rows: %w", err)
	}
	return nil
}

// MarkClosed flags a session inactive and records when it closed.
func (r *Repository) MarkClosed(sessionID string, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.Exec(`UPDATE sessions SET active = 0, last_error = ?, closed_at = ?, updated_at = ?
		WHERE session_id = ?`, lastError, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session closed: %w", err)
	}
	return nil
}

// DemoteActiveSessions marks every active session inactive. Called once at
// startup: the backend does not persist sessions across restarts, so any
// mirror still flagged active is stale.
func (r *Repository) DemoteActiveSessions() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.Exec(`UPDATE sessions SET active = 0, closed_at = ?, updated_at = ?
		WHERE active = 1`, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to demote active sessions: %w", err)
	}
	count, _ := result.RowsAffected()
	if count > 0 {
		r.log.Info().Int64("count", count).Msg("Demoted stale active sessions from previous run")
	}
	return count, nil
}

// PruneClosedBefore deletes closed sessions (and their rows, via cascade)
// that closed before the cutoff. Returns the number of sessions removed.
func (r *Repository) PruneClosedBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE active = 0 AND closed_at IS NOT NULL
		AND closed_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to prune closed sessions: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *Repository) scanSession(row scanner) (*domain.SessionState, error) {
	var state domain.SessionState
	var active int
	var startedAt, updatedAt string

	err := row.Scan(
		&state.Config.SessionID,
		&state.Config.Checkpoint,
		&state.Config.DatasetID,
		&state.Config.DatasetName,
		&state.Config.GameCapital,
		&state.Config.GameBet,
		&state.CurrentCapital,
		&state.CurrentBet,
		&active,
		&state.LastError,
		&state.Note,
		&startedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.Active = active != 0
	state.StartedAt = parseTime(startedAt)
	state.UpdatedAt = parseTime(updatedAt)
	state.Rows = []domain.HistoryRow{}
	return &state, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
