package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// SessionStartedData contains data for SessionStarted events
type SessionStartedData struct {
	SessionID   string `json:"session_id"`
	Checkpoint  string `json:"checkpoint"`
	DatasetID   int64  `json:"dataset_id"`
	GameCapital int    `json:"game_capital"`
	GameBet     int    `json:"game_bet"`
}

// EventType returns the event type for SessionStartedData
func (d *SessionStartedData) EventType() EventType {
	return SessionStarted
}

// SessionStoppedData contains data for SessionStopped events
type SessionStoppedData struct {
	SessionID    string `json:"session_id"`
	Steps        int    `json:"steps"`
	FinalCapital int    `json:"final_capital"`
}

// EventType returns the event type for SessionStoppedData
func (d *SessionStoppedData) EventType() EventType {
	return SessionStopped
}

// StepRecordedData contains data for StepRecorded events
type StepRecordedData struct {
	SessionID       string `json:"session_id"`
	Step            int    `json:"step"`
	Extraction      int    `json:"extraction"`
	PredictedAction int    `json:"predicted_action"`
	Reward          int    `json:"reward"`
	CapitalAfter    int    `json:"capital_after"`
	NextAction      int    `json:"next_action"`
	NextDescription string `json:"next_description"`
}

// EventType returns the event type for StepRecordedData
func (d *StepRecordedData) EventType() EventType {
	return StepRecorded
}

// BetChangedData contains data for BetChanged events
type BetChangedData struct {
	SessionID string `json:"session_id"`
	BetAmount int    `json:"bet_amount"`
}

// EventType returns the event type for BetChangedData
func (d *BetChangedData) EventType() EventType {
	return BetChanged
}

// RowsClearedData contains data for RowsCleared events
type RowsClearedData struct {
	SessionID string `json:"session_id"`
}

// EventType returns the event type for RowsClearedData
func (d *RowsClearedData) EventType() EventType {
	return RowsCleared
}

// RecomputeStatusData contains data for recompute lifecycle events
// The Status field determines which of the three event types is emitted.
type RecomputeStatusData struct {
	SessionID    string  `json:"session_id"`
	OldSessionID string  `json:"old_session_id,omitempty"`
	Status       string  `json:"status"` // "started", "completed", "failed"
	RowsReplayed int     `json:"rows_replayed,omitempty"`
	Error        string  `json:"error,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
}

// EventType returns the event type for RecomputeStatusData
// Note: The actual event type is determined by the Status field
func (d *RecomputeStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return RecomputeCompleted
	case "failed":
		return RecomputeFailed
	default:
		return RecomputeStarted
	}
}

// DatasetUploadedData contains data for DatasetUploaded events
type DatasetUploadedData struct {
	DatasetID    int64  `json:"dataset_id"`
	Filename     string `json:"filename"`
	RowsImported int64  `json:"rows_imported"`
}

// EventType returns the event type for DatasetUploadedData
func (d *DatasetUploadedData) EventType() EventType {
	return DatasetUploaded
}

// DatasetDeletedData contains data for DatasetDeleted events
type DatasetDeletedData struct {
	DatasetName string `json:"dataset_name"`
}

// EventType returns the event type for DatasetDeletedData
func (d *DatasetDeletedData) EventType() EventType {
	return DatasetDeleted
}

// CheckpointDeletedData contains data for CheckpointDeleted events
type CheckpointDeletedData struct {
	Checkpoint string `json:"checkpoint"`
}

// EventType returns the event type for CheckpointDeletedData
func (d *CheckpointDeletedData) EventType() EventType {
	return CheckpointDeleted
}

// BackendStatusChangedData contains data for BackendStatusChanged events
type BackendStatusChangedData struct {
	Reachable bool   `json:"reachable"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for BackendStatusChangedData
func (d *BackendStatusChangedData) EventType() EventType {
	return BackendStatusChanged
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string  `json:"key"`
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	// Marshal the data separately
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Unmarshal data based on event type
	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case SessionStarted:
			eventData = &SessionStartedData{}
		case SessionStopped:
			eventData = &SessionStoppedData{}
		case StepRecorded:
			eventData = &StepRecordedData{}
		case BetChanged:
			eventData = &BetChangedData{}
		case RowsCleared:
			eventData = &RowsClearedData{}
		case RecomputeStarted, RecomputeCompleted, RecomputeFailed:
			eventData = &RecomputeStatusData{}
		case DatasetUploaded:
			eventData = &DatasetUploadedData{}
		case DatasetDeleted:
			eventData = &DatasetDeletedData{}
		case CheckpointDeleted:
			eventData = &CheckpointDeletedData{}
		case BackendStatusChanged:
			eventData = &BackendStatusChangedData{}
		case BackupCompleted:
			eventData = &BackupCompletedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		default:
			// For unknown types, use raw map
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if err := json.Unmarshal(aux.Data, eventData); err != nil {
				return err
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
