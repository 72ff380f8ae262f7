// Package events provides the in-process event bus that feeds the
// dashboard's SSE stream and websocket. Services publish typed events;
// the server fans them out to connected browsers.
package events

// EventType identifies a category of event
type EventType string

const (
	// Session lifecycle
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	StepRecorded   EventType = "step_recorded"
	BetChanged     EventType = "bet_changed"
	RowsCleared    EventType = "rows_cleared"

	// Recompute (history replay after an edit or delete)
	RecomputeStarted   EventType = "recompute_started"
	RecomputeCompleted EventType = "recompute_completed"
	RecomputeFailed    EventType = "recompute_failed"

	// Catalogs
	DatasetUploaded   EventType = "dataset_uploaded"
	DatasetDeleted    EventType = "dataset_deleted"
	CheckpointDeleted EventType = "checkpoint_deleted"

	// System
	BackendStatusChanged EventType = "backend_status_changed"
	BackupCompleted      EventType = "backup_completed"
	ErrorOccurred        EventType = "error"
)
