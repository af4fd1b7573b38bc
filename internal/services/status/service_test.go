package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/interfaces"
	"github.com/ternarybob/carextract/internal/models"
	"github.com/ternarybob/carextract/internal/services/events"
	"github.com/ternarybob/carextract/internal/services/scheduler"
)

type fakeBrowser bool

func (f fakeBrowser) IsInitialized() bool { return bool(f) }

type fakeSchedule scheduler.Status

func (f fakeSchedule) Status() scheduler.Status { return scheduler.Status(f) }

func TestService_TracksRunState(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	svc := NewService(bus, fakeBrowser(true), fakeSchedule{Enabled: true, Cron: "30 7 * * 1-5"}, "https://haesl.example/cars", arbor.NewLogger())
	svc.Seed(models.RunSnapshot{RunID: "run_0", State: models.RunStateStopped, Message: "Interrupted"})
	require.NoError(t, svc.SubscribeToRunEvents())

	status := svc.GetStatus()
	assert.Equal(t, models.RunStateStopped, status.RunState)
	assert.Equal(t, "Interrupted", status.RunMessage)
	assert.Nil(t, status.StateChangedAt)
	assert.True(t, status.Browser)
	require.NotNil(t, status.Schedule)
	assert.Equal(t, "30 7 * * 1-5", status.Schedule.Cron)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventRunState,
		Payload: models.RunSnapshot{RunID: "run_1", State: models.RunStateRunning, Message: "Processing 1 of 2"},
	}))

	status = svc.GetStatus()
	assert.Equal(t, "run_1", status.RunID)
	assert.Equal(t, models.RunStateRunning, status.RunState)
	require.NotNil(t, status.StateChangedAt)
	assert.WithinDuration(t, time.Now(), *status.StateChangedAt, time.Second)

	require.NoError(t, svc.Close())
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventRunState,
		Payload: models.RunSnapshot{RunID: "run_2", State: models.RunStateCompleted},
	}))
	assert.Equal(t, "run_1", svc.GetStatus().RunID)
}

func TestService_NilProbes(t *testing.T) {
	svc := NewService(nil, nil, nil, "", arbor.NewLogger())
	require.NoError(t, svc.SubscribeToRunEvents())

	status := svc.GetStatus()
	assert.Equal(t, models.RunStateIdle, status.RunState)
	assert.False(t, status.Browser)
	assert.Nil(t, status.Schedule)
	assert.NoError(t, svc.Close())
}
