package messenger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/models"
)

func record(id string) models.ReportRecord {
	return models.ReportRecord{ID: id, Status: "Open"}
}

func TestDeliver_ResolvesOnce(t *testing.T) {
	m := New(arbor.NewLogger())

	p, err := m.Expect("1_0_CAR1001_1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Outstanding())

	assert.True(t, m.Deliver(models.NewEnvelope("1_0_CAR1001_1", record("CAR-1001"))))
	// Second envelope for the same id is dropped
	assert.False(t, m.Deliver(models.NewEnvelope("1_0_CAR1001_1", record("CAR-1001"))))
	assert.Equal(t, 0, m.Outstanding())

	env := <-p.Result()
	assert.Equal(t, "CAR-1001", env.Record.ID)
	assert.Len(t, p.Result(), 0)
}

func TestDeliver_IgnoresForeignAndUnknown(t *testing.T) {
	m := New(arbor.NewLogger())
	_, err := m.Expect("a")
	require.NoError(t, err)

	assert.False(t, m.Deliver(models.Envelope{Type: "SOMETHING_ELSE", CorrelationID: "a"}))
	assert.False(t, m.Deliver(models.NewEnvelope("b", record("CAR-2"))))
	assert.Equal(t, 1, m.Outstanding())
}

func TestCancel_LateEnvelopeDropped(t *testing.T) {
	m := New(arbor.NewLogger())
	p, err := m.Expect("late")
	require.NoError(t, err)

	p.Cancel()
	p.Cancel()

	assert.False(t, m.Deliver(models.NewEnvelope("late", record("CAR-3"))))
	assert.Len(t, p.Result(), 0)
}

func TestExpect_RejectsReuse(t *testing.T) {
	m := New(arbor.NewLogger())

	p, err := m.Expect("x")
	require.NoError(t, err)

	_, err = m.Expect("x")
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)

	p.Cancel()
	_, err = m.Expect("x")
	assert.ErrorIs(t, err, ErrDuplicateCorrelation, "resolved ids are never reused")
}

func TestReset(t *testing.T) {
	m := New(arbor.NewLogger())
	_, err := m.Expect("r1")
	require.NoError(t, err)
	_, err = m.Expect("r2")
	require.NoError(t, err)

	m.Reset()

	assert.Equal(t, 0, m.Outstanding())
	assert.False(t, m.Deliver(models.NewEnvelope("r1", record("CAR-1"))))
}

func TestResolvedIDsAreBounded(t *testing.T) {
	m := New(arbor.NewLogger())

	for i := range maxResolved + 10 {
		p, err := m.Expect(fmt.Sprintf("1_%d_CAR1_%d", i, i))
		require.NoError(t, err)
		p.Cancel()
	}

	assert.Len(t, m.resolved, maxResolved)
	assert.Len(t, m.resolvedOrder, maxResolved)
	assert.Zero(t, m.Outstanding())

	// The most recent ids are still rejected, the oldest have been forgotten
	_, err := m.Expect(fmt.Sprintf("1_%d_CAR1_%d", maxResolved+9, maxResolved+9))
	assert.ErrorIs(t, err, ErrDuplicateCorrelation)
	_, err = m.Expect("1_0_CAR1_0")
	assert.NoError(t, err)
}
