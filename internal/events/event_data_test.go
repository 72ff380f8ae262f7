package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecomputeStatusData_EventType tests EventType() returns correct type based on Status
func TestRecomputeStatusData_EventType(t *testing.T) {
	testCases := []struct {
		status       string
		expectedType EventType
	}{
		{"started", RecomputeStarted},
		{"completed", RecomputeCompleted},
		{"failed", RecomputeFailed},
		{"unknown", RecomputeStarted}, // Fallback to RecomputeStarted
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			data := &RecomputeStatusData{Status: tc.status}
			assert.Equal(t, tc.expectedType, data.EventType())
		})
	}
}

// TestEventWithData_RoundTrip tests that a typed event survives JSON serialization
func TestEventWithData_RoundTrip(t *testing.T) {
	event := &EventWithData{
		Type:      StepRecorded,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Module:    "session",
		Data: &StepRecordedData{
			SessionID:       "abc123",
			Step:            4,
			Extraction:      17,
			PredictedAction: 17,
			Reward:          350,
			CapitalAfter:    1340,
			NextAction:      4,
			NextDescription: "straight 4",
		},
	}

	jsonData, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"step_recorded"`)
	assert.Contains(t, string(jsonData), `"capital_after":1340`)

	var decoded EventWithData
	err = json.Unmarshal(jsonData, &decoded)
	require.NoError(t, err)

	assert.Equal(t, StepRecorded, decoded.Type)
	assert.Equal(t, "session", decoded.Module)
	stepData, ok := decoded.Data.(*StepRecordedData)
	require.True(t, ok)
	assert.Equal(t, "abc123", stepData.SessionID)
	assert.Equal(t, 17, stepData.Extraction)
	assert.Equal(t, 1340, stepData.CapitalAfter)
}

// TestEventWithData_RecomputeVariants tests that all three recompute event types
// decode into RecomputeStatusData
func TestEventWithData_RecomputeVariants(t *testing.T) {
	for _, eventType := range []EventType{RecomputeStarted, RecomputeCompleted, RecomputeFailed} {
		t.Run(string(eventType), func(t *testing.T) {
			raw := `{"type":"` + string(eventType) + `","timestamp":"2026-01-01T00:00:00Z","module":"session","data":{"session_id":"s1","status":"completed","rows_replayed":12}}`

			var decoded EventWithData
			require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

			data, ok := decoded.Data.(*RecomputeStatusData)
			require.True(t, ok)
			assert.Equal(t, "s1", data.SessionID)
			assert.Equal(t, 12, data.RowsReplayed)
		})
	}
}

// TestEventWithData_UnknownTypeFallsBackToGeneric tests the generic fallback path
func TestEventWithData_UnknownTypeFallsBackToGeneric(t *testing.T) {
	raw := `{"type":"mystery","timestamp":"2026-01-01T00:00:00Z","module":"x","data":{"foo":"bar"}}`

	var decoded EventWithData
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, "bar", generic.Data["foo"])
}

// TestBus_PublishAndSubscribe tests basic fan-out delivery
func TestBus_PublishAndSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch1, unsub1 := bus.Subscribe(8)
	ch2, unsub2 := bus.Subscribe(8)
	defer unsub2()

	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish("session", &BetChangedData{SessionID: "s1", BetAmount: 25})

	for _, ch := range []<-chan EventWithData{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, BetChanged, event.Type)
			assert.Equal(t, "session", event.Module)
			data, ok := event.Data.(*BetChangedData)
			require.True(t, ok)
			assert.Equal(t, 25, data.BetAmount)
		case <-time.After(time.Second):
			t.Fatal("expected event was not delivered")
		}
	}

	unsub1()
	assert.Equal(t, 1, bus.SubscriberCount())

	// Channel must be closed after unsubscribe.
	_, open := <-ch1
	assert.False(t, open)
}

// TestBus_SlowSubscriberDropsEvents tests that a full buffer never blocks Publish
func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	ch, unsub := bus.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish("session", &RowsClearedData{SessionID: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Exactly one event fits in the buffer, the rest were dropped.
	assert.Len(t, ch, 1)
}
