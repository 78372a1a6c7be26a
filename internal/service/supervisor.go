package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/ws"
)

var DefaultBackoff = []time.Duration{3 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second}

const persistTimeout = 10 * time.Second

type SupervisorConfig struct {
	// Backoff[i] is the wait before reconnect attempt i+1. The last entry is
	// the ceiling for every later attempt.
	Backoff            []time.Duration
	MaxRetries         int
	SettleDelay        time.Duration
	ReadyCheckInterval time.Duration
	ReadyCheckAttempts int
}

// InboundHandler consumes inbound location shares.
type InboundHandler interface {
	HandleLocation(ctx context.Context, key SessionKey, evt LocationEvent) error
}

// Supervisor drives every session through its connection lifecycle.
type Supervisor struct {
	cfg      SupervisorConfig
	registry SessionRegistry
	factory  TransportFactory
	sessions model.SessionRepository
	realtime ws.RealtimePublisher
	inbound  InboundHandler
}

func NewSupervisor(cfg SupervisorConfig, registry SessionRegistry, factory TransportFactory, sessions model.SessionRepository, realtime ws.RealtimePublisher, inbound InboundHandler) *Supervisor {
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.ReadyCheckAttempts < 1 {
		cfg.ReadyCheckAttempts = 10
	}
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		factory:  factory,
		sessions: sessions,
		realtime: realtime,
		inbound:  inbound,
	}
}

func (s *Supervisor) Registry() SessionRegistry {
	return s.registry
}

// Connect starts a session, or returns the current one if it is already
// connecting, open, or waiting for a reconnect.
func (s *Supervisor) Connect(ctx context.Context, userID, sessionID string) (ConnectionSnapshot, error) {
	if sessionID == "" {
		sessionID = s.registry.DefaultSessionID(userID)
		if sessionID == "" {
			sessionID = DefaultSessionID
		}
	}
	key := SessionKey{UserID: userID, SessionID: sessionID}

	conn := newConnection(key)
	conn.state = StateConnecting
	conn.phase = PhaseRestoringCredentials
	conn.generation = 1

	existing, claimed := s.registry.Claim(conn)
	if !claimed {
		log.Debug().Str("session", key.String()).Str("state", string(existing.State())).Msg("connect ignored, session already active")
		return s.snapshot(existing), nil
	}

	isDefault := s.registry.IsDefault(userID, sessionID)
	if err := s.sessions.Ensure(ctx, userID, sessionID, isDefault); err != nil {
		return s.rollback(conn, nil, "persist session", err)
	}
	if isDefault {
		s.persistDefault(userID, sessionID)
	}

	t, restored, err := s.factory.New(ctx, key, s.sink(conn, 1))
	if err != nil {
		return s.rollback(conn, nil, "allocate transport", err)
	}

	conn.mu.Lock()
	if conn.generation != 1 || conn.state != StateConnecting {
		// disconnected while we were allocating
		conn.mu.Unlock()
		t.Close()
		return s.snapshot(conn), nil
	}
	conn.transport = t
	if restored {
		conn.phase = PhaseRestoringCredentials
		conn.origin = OriginRestored
	} else {
		conn.phase = PhaseAwaitingQR
		conn.origin = OriginQRRequired
	}
	conn.mu.Unlock()

	if err := t.Connect(); err != nil {
		return s.rollback(conn, t, "open transport", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Bool("restored", restored).
		Msg("session connecting")
	s.publishStatus(conn, model.SessionStatusConnecting, "")

	return s.snapshot(conn), nil
}

// rollback undoes a half-finished Connect so no handle or registry entry leaks.
func (s *Supervisor) rollback(conn *Connection, t Transport, op string, cause error) (ConnectionSnapshot, error) {
	conn.mu.Lock()
	if conn.transport == t {
		conn.detachLocked()
	}
	conn.state = StateTerminated
	conn.phase = PhaseNone
	conn.lastErr = cause
	conn.mu.Unlock()

	if t != nil {
		t.Close()
	}
	s.removeConn(conn)

	connErr := &ConnectionError{UserID: conn.Key.UserID, SessionID: conn.Key.SessionID, Op: op, Err: cause}
	log.Error().Err(cause).Str("session", conn.Key.String()).Str("op", op).Msg("connection setup failed")
	s.publishError(conn, connErr)
	return s.snapshot(conn), connErr
}

// Disconnect logs the session out, forgets its credentials and removes it.
func (s *Supervisor) Disconnect(ctx context.Context, userID, sessionID string) error {
	conn, ok := s.registry.Get(userID, sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	conn.mu.Lock()
	t := conn.detachLocked()
	conn.state = StateTerminated
	conn.phase = PhaseNone
	conn.pendingQR = ""
	conn.mu.Unlock()

	if t != nil {
		// Logout gagal tetap lanjut, handle tetap harus ditutup
		if err := t.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("session", conn.Key.String()).Msg("logout failed")
		}
		t.Close()
	}
	s.removeConn(conn)

	s.persistStatus(conn.Key, model.SessionStatusLoggedOut, "", "")
	s.publishStatus(conn, model.SessionStatusLoggedOut, "disconnected by user")
	log.Info().Str("session", conn.Key.String()).Msg("session disconnected")
	return nil
}

func (s *Supervisor) Status(userID, sessionID string) (ConnectionSnapshot, error) {
	conn, ok := s.registry.Get(userID, sessionID)
	if !ok {
		return ConnectionSnapshot{}, ErrSessionNotFound
	}
	return s.snapshot(conn), nil
}

func (s *Supervisor) List(userID string) []ConnectionSnapshot {
	ids := s.registry.ListSessionIDs(userID)
	snaps := make([]ConnectionSnapshot, 0, len(ids))
	for _, id := range ids {
		if conn, ok := s.registry.Get(userID, id); ok {
			snaps = append(snaps, s.snapshot(conn))
		}
	}
	return snaps
}

// RestoreAll reconnects every persisted session that was not logged out.
func (s *Supervisor) RestoreAll(ctx context.Context) (int, error) {
	records, err := s.sessions.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sessions: %w", err)
	}

	restored := 0
	for _, rec := range records {
		if !rec.JID.Valid || rec.JID.String == "" {
			continue
		}
		if _, err := s.Connect(ctx, rec.UserID, rec.SessionID); err != nil {
			log.Error().Err(err).Str("user_id", rec.UserID).Str("session_id", rec.SessionID).Msg("failed to restore session")
			continue
		}
		restored++
	}
	log.Info().Int("restored", restored).Int("known", len(records)).Msg("sessions restored")
	return restored, nil
}

// Shutdown closes every transport without touching credentials.
func (s *Supervisor) Shutdown() {
	for _, conn := range s.registry.All() {
		conn.release()
	}
}

// Promote is called by the health monitor for sessions that became ready
// without the settle timer noticing. Sessions whose transport never reported
// open are left alone.
func (s *Supervisor) Promote(conn *Connection) {
	conn.mu.Lock()
	gen := conn.generation
	conn.mu.Unlock()
	s.handleEvent(conn, gen, healthProbe{})
}

func (s *Supervisor) snapshot(conn *Connection) ConnectionSnapshot {
	snap := conn.Snapshot()
	snap.IsDefault = s.registry.IsDefault(conn.Key.UserID, conn.Key.SessionID)
	return snap
}

// internal events, never emitted by a transport

type settleCheck struct{}
type healthProbe struct{}
type reconnectDue struct{}

func (settleCheck) transportEvent()  {}
func (healthProbe) transportEvent()  {}
func (reconnectDue) transportEvent() {}

func (s *Supervisor) sink(conn *Connection, gen uint64) EventSink {
	return func(evt TransportEvent) {
		s.handleEvent(conn, gen, evt)
	}
}

// effects are the side effects of a transition, run after the lock is released.
type effects struct {
	release   Transport
	forget    bool
	remove    bool
	reconnect uint64
	status    model.SessionStatus
	qr        string
	jid       string
	reason    string
	err       error
}

func (s *Supervisor) handleEvent(conn *Connection, gen uint64, evt TransportEvent) {
	if loc, ok := evt.(LocationEvent); ok {
		s.dispatchLocation(conn.Key, loc)
		return
	}

	conn.mu.Lock()
	if conn.generation != gen || conn.state == StateTerminated {
		conn.mu.Unlock()
		log.Debug().Str("session", conn.Key.String()).Str("event", fmt.Sprintf("%T", evt)).Msg("stale event ignored")
		return
	}
	fx := s.transition(conn, gen, evt)
	conn.mu.Unlock()

	s.apply(conn, fx)
}

// transition is the only place connection state changes after Connect.
// Caller holds conn.mu.
func (s *Supervisor) transition(conn *Connection, gen uint64, evt TransportEvent) effects {
	var fx effects

	switch e := evt.(type) {
	case QREvent:
		if conn.state != StateConnecting {
			return fx
		}
		conn.phase = PhaseAwaitingQR
		conn.origin = OriginQRRequired
		conn.pendingQR = e.Code
		fx.status = model.SessionStatusQRRequired
		fx.qr = e.Code

	case OpenEvent:
		if conn.state != StateConnecting {
			return fx
		}
		conn.transportUp = true
		conn.pendingQR = ""
		conn.readyAttempts = 0
		if e.JID != "" {
			conn.jid = e.JID
		}
		s.scheduleLocked(conn, &conn.settleTimer, s.cfg.SettleDelay, gen, settleCheck{})

	case settleCheck:
		if conn.state != StateConnecting {
			return fx
		}
		conn.settleTimer = nil
		if _, ok := readySender(conn.transport); ok {
			s.openLocked(conn, &fx)
			return fx
		}
		conn.readyAttempts++
		if conn.readyAttempts >= s.cfg.ReadyCheckAttempts {
			s.closeLocked(conn, &fx, ClosedEvent{Reason: ErrTransportNotReady.Error()})
			return fx
		}
		s.scheduleLocked(conn, &conn.settleTimer, s.cfg.ReadyCheckInterval, gen, settleCheck{})

	case healthProbe:
		// hanya sesi yang transport-nya sudah pernah up
		if conn.state != StateConnecting || !conn.transportUp {
			return fx
		}
		if _, ok := readySender(conn.transport); ok {
			s.openLocked(conn, &fx)
		}

	case ClosedEvent:
		if conn.state == StateIdle {
			return fx
		}
		s.closeLocked(conn, &fx, e)

	case reconnectDue:
		conn.reconnectTimer = nil
		if conn.state != StateIdle {
			return fx
		}
		conn.state = StateConnecting
		conn.phase = PhaseRestoringCredentials
		conn.generation++
		fx.reconnect = conn.generation
		fx.status = model.SessionStatusConnecting
	}

	return fx
}

func (s *Supervisor) openLocked(conn *Connection, fx *effects) {
	conn.stopTimersLocked()
	conn.state = StateOpen
	conn.phase = PhaseNone
	conn.retries = 0
	conn.readyAttempts = 0
	conn.lastErr = nil
	conn.pendingQR = ""
	conn.openedAt = time.Now().UTC()
	if jid := conn.transport.JID(); jid != "" {
		conn.jid = jid
	}
	fx.status = model.SessionStatusOnline
	fx.jid = conn.jid
}

func (s *Supervisor) closeLocked(conn *Connection, fx *effects, e ClosedEvent) {
	conn.state = StateClosing
	fx.release = conn.detachLocked()
	fx.reason = e.Reason
	conn.pendingQR = ""
	conn.phase = PhaseNone

	switch {
	case e.Permanent:
		conn.state = StateTerminated
		conn.lastErr = errors.New(e.Reason)
		fx.forget = e.LoggedOut
		fx.remove = true
		fx.status = model.SessionStatusLoggedOut
		if !e.LoggedOut {
			fx.status = model.SessionStatusFailed
		}

	case conn.retries >= s.cfg.MaxRetries:
		conn.state = StateTerminated
		conn.lastErr = ErrReconnectExhausted
		fx.status = model.SessionStatusFailed
		fx.err = fmt.Errorf("%w after %d attempts: %s", ErrReconnectExhausted, conn.retries, e.Reason)

	default:
		conn.retries++
		conn.state = StateIdle
		conn.lastErr = errors.New(e.Reason)
		delay := s.backoff(conn.retries)
		s.scheduleLocked(conn, &conn.reconnectTimer, delay, conn.generation, reconnectDue{})
		fx.status = model.SessionStatusDisconnected
		log.Warn().
			Str("session", conn.Key.String()).
			Str("reason", e.Reason).
			Int("attempt", conn.retries).
			Dur("delay", delay).
			Msg("connection closed, reconnect scheduled")
	}
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.cfg.Backoff) {
		idx = len(s.cfg.Backoff) - 1
	}
	return s.cfg.Backoff[idx]
}

func (s *Supervisor) scheduleLocked(conn *Connection, slot **time.Timer, d time.Duration, gen uint64, evt TransportEvent) {
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = time.AfterFunc(d, func() {
		s.handleEvent(conn, gen, evt)
	})
}

func (s *Supervisor) apply(conn *Connection, fx effects) {
	if fx.release != nil {
		if fx.forget {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := fx.release.Logout(ctx); err != nil {
				log.Warn().Err(err).Str("session", conn.Key.String()).Msg("failed to forget credentials")
			}
			cancel()
		}
		fx.release.Close()
	}
	if fx.remove {
		s.removeConn(conn)
	}

	if fx.status != "" {
		s.persistStatus(conn.Key, fx.status, fx.qr, fx.jid)
		if fx.status == model.SessionStatusQRRequired {
			s.publish(ws.EventQRGenerated, ws.QRGeneratedData{
				UserID:    conn.Key.UserID,
				SessionID: conn.Key.SessionID,
				QRString:  fx.qr,
			})
		} else {
			s.publishStatus(conn, fx.status, fx.reason)
		}
		if fx.status == model.SessionStatusOnline {
			log.Info().Str("session", conn.Key.String()).Str("jid", fx.jid).Msg("session online")
		}
	}

	if fx.err != nil {
		log.Error().Err(fx.err).Str("session", conn.Key.String()).Msg("session terminated")
		s.publishError(conn, fx.err)
	}

	if fx.reconnect != 0 {
		s.reopen(conn, fx.reconnect)
	}
}

// reopen allocates a fresh transport for a scheduled reconnect. Failures are
// fed back as closures so they count against the retry budget.
func (s *Supervisor) reopen(conn *Connection, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	t, restored, err := s.factory.New(ctx, conn.Key, s.sink(conn, gen))
	cancel()
	if err != nil {
		s.handleEvent(conn, gen, ClosedEvent{Reason: err.Error()})
		return
	}

	conn.mu.Lock()
	if conn.generation != gen || conn.state != StateConnecting {
		conn.mu.Unlock()
		t.Close()
		return
	}
	conn.transport = t
	if restored {
		conn.origin = OriginRestored
	} else {
		conn.phase = PhaseAwaitingQR
		conn.origin = OriginQRRequired
	}
	conn.mu.Unlock()

	log.Info().Str("session", conn.Key.String()).Bool("restored", restored).Msg("reconnecting session")
	if err := t.Connect(); err != nil {
		s.handleEvent(conn, gen, ClosedEvent{Reason: err.Error()})
	}
}

func (s *Supervisor) dispatchLocation(key SessionKey, evt LocationEvent) {
	if s.inbound == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.inbound.HandleLocation(ctx, key, evt); err != nil {
			log.Error().Err(err).Str("session", key.String()).Str("from", evt.From).Msg("failed to handle location")
		}
	}()
}

// removeConn drops conn from the registry and persists the default session
// the registry promoted in its place, if any.
func (s *Supervisor) removeConn(conn *Connection) {
	userID := conn.Key.UserID
	before := s.registry.DefaultSessionID(userID)
	if !s.registry.RemoveConn(conn) {
		return
	}
	if after := s.registry.DefaultSessionID(userID); after != "" && after != before {
		log.Info().Str("user_id", userID).Str("session_id", after).Msg("default session promoted")
		s.persistDefault(userID, after)
	}
}

func (s *Supervisor) persistDefault(userID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.sessions.SetDefault(ctx, userID, sessionID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("session_id", sessionID).Msg("failed to persist default session")
	}
}

func (s *Supervisor) persistStatus(key SessionKey, status model.SessionStatus, qr, jid string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	switch status {
	case model.SessionStatusQRRequired:
		err = s.sessions.UpdateQR(ctx, key.UserID, key.SessionID, qr)
	case model.SessionStatusOnline:
		err = s.sessions.MarkConnected(ctx, key.UserID, key.SessionID, jid, helper.ExtractPhoneFromJID(jid))
	case model.SessionStatusConnecting:
		return
	default:
		err = s.sessions.MarkDisconnected(ctx, key.UserID, key.SessionID, status)
	}
	if err != nil {
		log.Error().Err(err).Str("session", key.String()).Str("status", string(status)).Msg("failed to persist session status")
	}
}

func (s *Supervisor) publishStatus(conn *Connection, status model.SessionStatus, reason string) {
	snap := conn.Snapshot()
	s.publish(ws.EventSessionStatusChanged, ws.SessionStatusData{
		UserID:    conn.Key.UserID,
		SessionID: conn.Key.SessionID,
		State:     string(snap.State),
		Status:    string(status),
		Phase:     string(snap.Phase),
		JID:       snap.JID,
		Reason:    reason,
	})
}

func (s *Supervisor) publishError(conn *Connection, err error) {
	s.publish(ws.EventSessionError, ws.SessionErrorData{
		UserID:    conn.Key.UserID,
		SessionID: conn.Key.SessionID,
		Error:     err.Error(),
	})
}

func (s *Supervisor) publish(event ws.EventType, data interface{}) {
	if s.realtime == nil {
		return
	}
	s.realtime.Publish(ws.WsEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
