package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHealthy(t *testing.T) {
	ready := &fakeTransport{ready: true}

	tests := []struct {
		name string
		conn *Connection
		want bool
	}{
		{name: "nil connection", conn: nil, want: false},
		{name: "no transport", conn: connWith("u1", "s1", nil), want: false},
		{name: "transport not ready", conn: connWith("u1", "s1", &fakeTransport{}), want: false},
		{name: "ready transport", conn: connWith("u1", "s1", ready), want: true},
		{name: "ready but cannot send", conn: connWith("u1", "s1", receiveOnlyTransport{ready}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHealthy(tt.conn))
		})
	}
}

func TestHealthMonitor_SweepReadiness(t *testing.T) {
	// settle timer far in the future so only the sweep can promote
	f := newSupervisorFixture(SupervisorConfig{SettleDelay: time.Hour})
	mon := NewHealthMonitor(f.sup, f.repo, time.Second, time.Minute)

	_, err := f.sup.Connect(context.Background(), "u1", "s1")
	require.NoError(t, err)
	_, err = f.sup.Connect(context.Background(), "u1", "s2")
	require.NoError(t, err)

	assert.Equal(t, 0, mon.SweepReadiness())

	// ready, but the transport never reported open
	f.factory.at(0).setReady(true)
	f.factory.at(1).setReady(true)
	assert.Equal(t, 0, mon.SweepReadiness())
	assert.Equal(t, StateConnecting, f.state("u1", "s1"))

	f.factory.at(0).emit(OpenEvent{})
	assert.Equal(t, 1, mon.SweepReadiness())
	assert.Equal(t, StateOpen, f.state("u1", "s1"))
	assert.Equal(t, StateConnecting, f.state("u1", "s2"))

	snap, _ := f.sup.Status("u1", "s1")
	assert.Equal(t, "972501234567:7@s.whatsapp.net", snap.JID)
}

func TestHealthMonitor_SweepKeepAlive(t *testing.T) {
	f := newSupervisorFixture(SupervisorConfig{})
	mon := NewHealthMonitor(f.sup, f.repo, time.Second, time.Minute)

	_, err := f.sup.Connect(context.Background(), "u1", "open")
	require.NoError(t, err)
	open := f.factory.last()
	open.setReady(true)
	open.emit(OpenEvent{})
	f.sup.Promote(f.registry.All()[0])
	require.Equal(t, StateOpen, f.state("u1", "open"))

	_, err = f.sup.Connect(context.Background(), "u1", "pending")
	require.NoError(t, err)
	pending := f.factory.last()

	mon.SweepKeepAlive()

	open.mu.Lock()
	assert.Equal(t, 1, open.keepAlives)
	open.mu.Unlock()
	pending.mu.Lock()
	assert.Equal(t, 0, pending.keepAlives)
	pending.mu.Unlock()

	f.repo.mu.Lock()
	assert.Equal(t, 1, f.repo.touched)
	f.repo.mu.Unlock()
}

func TestHealthMonitor_StartStop(t *testing.T) {
	f := newSupervisorFixture(SupervisorConfig{SettleDelay: time.Hour})
	mon := NewHealthMonitor(f.sup, f.repo, time.Second, time.Minute)

	_, err := f.sup.Connect(context.Background(), "u1", "s1")
	require.NoError(t, err)
	f.factory.last().setReady(true)
	f.factory.last().emit(OpenEvent{})

	mon.Start()
	defer mon.Stop()

	require.Eventually(t, func() bool {
		return f.state("u1", "s1") == StateOpen
	}, 3*time.Second, 50*time.Millisecond)
}
