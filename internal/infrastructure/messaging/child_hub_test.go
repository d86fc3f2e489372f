package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

func TestChildHub_RoutesByChild(t *testing.T) {
	bus := syncBus(t)
	hub, err := NewChildHub(bus, 0, nil)
	require.NoError(t, err)

	var kid1, kid2 []shared.Event
	_, err = hub.SubscribeChild("kid-1", func(e shared.Event) { kid1 = append(kid1, e) })
	require.NoError(t, err)
	_, err = hub.SubscribeChild("kid-2", func(e shared.Event) { kid2 = append(kid2, e) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(shared.NewTransactionAppendedEvent("kid-1", "tx", 10, "r", time.Now(), nil)))

	assert.Len(t, kid1, 1)
	assert.Empty(t, kid2)
}

func TestChildHub_DropsDuplicateDeliveries(t *testing.T) {
	bus := syncBus(t)
	hub, err := NewChildHub(bus, 2, nil)
	require.NoError(t, err)

	var got []string
	sub, err := hub.SubscribeChild("kid", func(e shared.Event) { got = append(got, e.EventID()) })
	require.NoError(t, err)

	e1 := shared.NewStreakUpdatedEvent("kid", 1, "2024-05-01", false, false)
	e2 := shared.NewStreakUpdatedEvent("kid", 2, "2024-05-02", false, false)
	e3 := shared.NewStreakUpdatedEvent("kid", 3, "2024-05-03", false, true)

	for _, e := range []shared.Event{e1, e1, e2, e1, e3} {
		require.NoError(t, bus.Publish(e))
	}
	assert.Equal(t, []string{e1.EventID(), e2.EventID(), e3.EventID()}, got)

	// e1 has left the two-entry window, so a very late redelivery passes.
	require.NoError(t, bus.Publish(e1))
	assert.Len(t, got, 4)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Zero(t, hub.Subscribers("kid"))
	require.NoError(t, bus.Publish(e2))
	assert.Len(t, got, 4)
}

func TestChildHub_RejectsEmptyChild(t *testing.T) {
	hub, err := NewChildHub(syncBus(t), 0, nil)
	require.NoError(t, err)

	_, err = hub.SubscribeChild(" ", func(shared.Event) {})
	assert.True(t, shared.IsValidation(err))
}
