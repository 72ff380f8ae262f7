package checkpoints

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/croupier/internal/domain"
	"github.com/aristath/croupier/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient counts backend calls so the cache behavior is observable.
type fakeClient struct {
	domain.PredictorClient

	listCalls   int
	checkpoints []string
	listErr     error
	deleted     []string
}

func (f *fakeClient) ListCheckpoints(context.Context) ([]string, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.checkpoints, nil
}

func (f *fakeClient) DeleteCheckpoint(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func TestListCachesResults(t *testing.T) {
	client := &fakeClient{checkpoints: []string{"FAIRS_v3", "FAIRS_v2"}}
	svc := NewService(client, events.NewBus(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	first, err := svc.List(ctx)
	require.NoError(t, err)
	second, err := svc.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"FAIRS_v3", "FAIRS_v2"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.listCalls)
}

func TestListErrorIsNotCached(t *testing.T) {
	client := &fakeClient{listErr: errors.New("down")}
	svc := NewService(client, events.NewBus(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.Error(t, err)

	client.listErr = nil
	client.checkpoints = []string{"FAIRS_v3"}
	names, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"FAIRS_v3"}, names)
	assert.Equal(t, 2, client.listCalls)
}

func TestDeleteInvalidatesCacheAndPublishes(t *testing.T) {
	client := &fakeClient{checkpoints: []string{"FAIRS_v3", "FAIRS_v2"}}
	bus := events.NewBus(zerolog.Nop())
	svc := NewService(client, bus, zerolog.Nop())
	ctx := context.Background()

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	_, err := svc.List(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "FAIRS_v2"))
	assert.Equal(t, []string{"FAIRS_v2"}, client.deleted)

	event := <-ch
	assert.Equal(t, events.CheckpointDeleted, event.Type)

	// Next listing refetches.
	client.checkpoints = []string{"FAIRS_v3"}
	names, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"FAIRS_v3"}, names)
	assert.Equal(t, 2, client.listCalls)
}

func TestListNeverReturnsNil(t *testing.T) {
	client := &fakeClient{checkpoints: nil}
	svc := NewService(client, events.NewBus(zerolog.Nop()), zerolog.Nop())

	names, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, names)
	assert.Empty(t, names)
}
