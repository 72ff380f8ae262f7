// Package domain provides core domain models and types.
package domain

import "time"

// Roulette wheel bounds. Observed extractions are clamped into this range
// before any request leaves the controller.
const (
	MinExtraction = 0
	MaxExtraction = 36
)

// ClampExtraction clamps an observed wheel number into [MinExtraction, MaxExtraction].
func ClampExtraction(n int) int {
	if n < MinExtraction {
		return MinExtraction
	}
	if n > MaxExtraction {
		return MaxExtraction
	}
	return n
}

// Prediction is the model's suggested action for the upcoming spin.
// The action encoding (straight number, color, hold, ...) is owned by the
// backend; the dashboard only displays it.
type Prediction struct {
	Action      int      `json:"action"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// SessionConfig holds the parameters a session was opened with.
// All values are sourced from (and validated by) the prediction service.
type SessionConfig struct {
	SessionID   string `json:"session_id"`
	Checkpoint  string `json:"checkpoint"`
	DatasetID   int64  `json:"dataset_id"`
	DatasetName string `json:"dataset_name,omitempty"`
	GameCapital int    `json:"game_capital"`
	GameBet     int    `json:"game_bet"`
}

// HistoryRow is one observed-outcome/prediction pair in a session's history.
// Step indices come from the backend and are never invented locally.
type HistoryRow struct {
	RowID           string    `json:"row_id"`
	Step            int       `json:"step"`
	BetAmount       int       `json:"bet_amount"`
	Extraction      int       `json:"extraction"`
	PredictedAction int       `json:"predicted_action"`
	PredictedDesc   string    `json:"predicted_action_desc"`
	Reward          int       `json:"reward"`
	CapitalAfter    int       `json:"capital_after"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionState is the dashboard's mirror of a session: config, live
// capital/bet, the last prediction and the full row history.
type SessionState struct {
	Config         SessionConfig `json:"config"`
	CurrentCapital int           `json:"current_capital"`
	CurrentBet     int           `json:"current_bet"`
	Active         bool          `json:"active"`
	LastPrediction *Prediction   `json:"last_prediction,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	Note           string        `json:"note,omitempty"`
	Rows           []HistoryRow  `json:"rows"`
	StartedAt      time.Time     `json:"started_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DatasetInfo describes one uploaded roulette series.
type DatasetInfo struct {
	DatasetID   int64  `json:"dataset_id"`
	DatasetName string `json:"dataset_name"`
	RowCount    int64  `json:"row_count,omitempty"`
}

// TableStats describes one backend database table.
type TableStats struct {
	TableName   string `json:"table_name"`
	VerboseName string `json:"verbose_name"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int64  `json:"column_count"`
}

// TablePage is one page of rows from a backend table.
type TablePage struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Offset  int                      `json:"offset"`
	Limit   int                      `json:"limit"`
}

// UploadResult is the backend's summary of an imported dataset file.
type UploadResult struct {
	Table        string   `json:"table"`
	Filename     string   `json:"filename"`
	RowsImported int64    `json:"rows_imported"`
	Columns      []string `json:"columns"`
	DatasetID    int64    `json:"dataset_id,omitempty"`
}
