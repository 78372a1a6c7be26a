package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) (WsEvent, bool) {
	t.Helper()
	select {
	case evt, ok := <-c.send:
		return evt, ok
	case <-time.After(100 * time.Millisecond):
		return WsEvent{}, false
	}
}

func TestHub_FiltersByUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	mine := NewClient(hub, nil, "u1")
	other := NewClient(hub, nil, "u2")
	all := NewClient(hub, nil, "")
	hub.Register(mine)
	hub.Register(other)
	hub.Register(all)
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)

	hub.Publish(WsEvent{Event: EventJobProgress, Data: JobProgressData{JobID: "j1", OwnerUserID: "u1"}})

	evt, ok := receive(t, mine)
	require.True(t, ok)
	assert.Equal(t, EventJobProgress, evt.Event)
	assert.False(t, evt.Timestamp.IsZero())

	_, ok = receive(t, all)
	assert.True(t, ok)

	_, ok = receive(t, other)
	assert.False(t, ok)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := NewClient(hub, nil, "")
	hub.Register(c)
	hub.Stop()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// no-op after stop
	hub.Unregister(c)
}

func TestFanout_SkipsNil(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil, "")
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	Fanout{nil, hub}.Publish(WsEvent{Event: EventQRGenerated, Data: QRGeneratedData{UserID: "u1"}})
	evt, ok := receive(t, c)
	require.True(t, ok)
	assert.Equal(t, EventQRGenerated, evt.Event)
}
