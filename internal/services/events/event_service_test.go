package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
)

func TestService_PublishReachesSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	got := make(chan interfaces.Event, 1)
	_, err := svc.Subscribe(interfaces.EventRunProgress, func(ctx context.Context, e interfaces.Event) error {
		got <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventRunProgress, Payload: 3}))

	select {
	case e := <-got:
		assert.Equal(t, 3, e.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestService_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var first, second atomic.Int32
	handler := func(counter *atomic.Int32) interfaces.EventHandler {
		return func(ctx context.Context, e interfaces.Event) error {
			counter.Add(1)
			return nil
		}
	}

	id1, err := svc.Subscribe(interfaces.EventRunState, handler(&first))
	require.NoError(t, err)
	_, err = svc.Subscribe(interfaces.EventRunState, handler(&second))
	require.NoError(t, err)

	require.NoError(t, svc.Unsubscribe(interfaces.EventRunState, id1))
	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventRunState}))

	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())

	assert.Error(t, svc.Unsubscribe(interfaces.EventRunState, id1))
}

func TestService_PublishSyncCollectsErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	_, err := svc.Subscribe(interfaces.EventRecordUpdated, func(ctx context.Context, e interfaces.Event) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	assert.Error(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventRecordUpdated}))
}

func TestService_NilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	_, err := svc.Subscribe(interfaces.EventRunLog, nil)
	assert.Error(t, err)
}
