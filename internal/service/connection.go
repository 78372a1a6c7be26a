package service

import (
	"sync"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateTerminated State = "terminated"
)

// Phase refines StateConnecting.
type Phase string

const (
	PhaseNone                 Phase = ""
	PhaseAwaitingQR           Phase = "awaiting_qr"
	PhaseRestoringCredentials Phase = "restoring_credentials"
)

type Origin string

const (
	OriginQRRequired Origin = "qr_required"
	OriginRestored   Origin = "restored_from_credentials"
)

// DefaultSessionID is used when a caller gives no session id and the user
// has no sessions yet.
const DefaultSessionID = "default"

// Connection is the supervised record for one session. Every field below mu
// is guarded by it; the transport handle is swapped only by the supervisor.
type Connection struct {
	Key       SessionKey
	CreatedAt time.Time

	mu             sync.Mutex
	state          State
	phase          Phase
	origin         Origin
	transport      Transport
	generation     uint64
	transportUp    bool
	pendingQR      string
	jid            string
	retries        int
	readyAttempts  int
	lastErr        error
	openedAt       time.Time
	settleTimer    *time.Timer
	reconnectTimer *time.Timer
}

func newConnection(key SessionKey) *Connection {
	return &Connection{
		Key:       key,
		CreatedAt: time.Now().UTC(),
		state:     StateIdle,
	}
}

// ConnectionSnapshot is a point-in-time copy safe to hand to callers.
type ConnectionSnapshot struct {
	UserID     string     `json:"userId"`
	SessionID  string     `json:"sessionId"`
	IsDefault  bool       `json:"isDefault"`
	State      State      `json:"state"`
	Phase      Phase      `json:"phase,omitempty"`
	Origin     Origin     `json:"origin,omitempty"`
	JID        string     `json:"jid,omitempty"`
	PendingQR  string     `json:"pendingQr,omitempty"`
	Retries    int        `json:"retries"`
	Ready      bool       `json:"ready"`
	LastError  string     `json:"lastError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	OpenedAt   *time.Time `json:"openedAt,omitempty"`
	Generation uint64     `json:"-"`
}

// Transport borrows the current handle for one operation. It may be nil.
func (c *Connection) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Snapshot() ConnectionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := ConnectionSnapshot{
		UserID:     c.Key.UserID,
		SessionID:  c.Key.SessionID,
		State:      c.state,
		Phase:      c.phase,
		Origin:     c.origin,
		JID:        c.jid,
		PendingQR:  c.pendingQR,
		Retries:    c.retries,
		CreatedAt:  c.CreatedAt,
		Generation: c.generation,
	}
	if c.state == StateOpen {
		_, snap.Ready = readySender(c.transport)
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if !c.openedAt.IsZero() {
		openedAt := c.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// detachLocked stops timers and takes the transport away from the record.
// Events from the old handle are ignored afterwards.
func (c *Connection) detachLocked() Transport {
	c.stopTimersLocked()
	t := c.transport
	c.transport = nil
	c.transportUp = false
	c.generation++
	return t
}

func (c *Connection) stopTimersLocked() {
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// release closes the transport, if any, and leaves the record idle.
func (c *Connection) release() {
	c.mu.Lock()
	t := c.detachLocked()
	if c.state != StateTerminated {
		c.state = StateIdle
		c.phase = PhaseNone
	}
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
}
