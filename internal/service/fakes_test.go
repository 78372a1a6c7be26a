package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/ws"
)

type sentMessage struct {
	to   string
	text string
}

type fakeTransport struct {
	mu         sync.Mutex
	sink       EventSink
	ready      bool
	jid        string
	connectErr error
	sendErr    error
	sendDelay  time.Duration
	// started is signalled on every send; gate, when set, blocks sends until closed.
	started chan struct{}
	gate    chan struct{}

	connects   int
	closes     int
	logouts    int
	keepAlives int
	sent       []sentMessage
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.connectErr
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.ready = false
}

func (t *fakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logouts++
	return nil
}

func (t *fakeTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *fakeTransport) KeepAlive(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keepAlives++
	return nil
}

func (t *fakeTransport) JID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jid
}

func (t *fakeTransport) SendText(ctx context.Context, to, text string) (string, error) {
	t.mu.Lock()
	started, gate, delay, sendErr := t.started, t.gate, t.sendDelay, t.sendErr
	t.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if sendErr != nil {
		return "", sendErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMessage{to: to, text: text})
	return "msg-" + to, nil
}

func (t *fakeTransport) setReady(ready bool) {
	t.mu.Lock()
	t.ready = ready
	t.mu.Unlock()
}

func (t *fakeTransport) emit(evt TransportEvent) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	sink(evt)
}

func (t *fakeTransport) counts() (connects, closes, logouts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.closes, t.logouts
}

func (t *fakeTransport) messages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

// receiveOnlyTransport hides SendText.
type receiveOnlyTransport struct {
	Transport
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	restored   bool
	newErr     error
	connectErr error
}

func (f *fakeFactory) New(ctx context.Context, key SessionKey, sink EventSink) (Transport, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, false, f.newErr
	}
	t := &fakeTransport{
		sink:       sink,
		jid:        "972501234567:7@s.whatsapp.net",
		connectErr: f.connectErr,
	}
	f.transports = append(f.transports, t)
	return t, f.restored, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[len(f.transports)-1]
}

func (f *fakeFactory) at(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

type fakeSessionRepo struct {
	mu      sync.Mutex
	records map[SessionKey]*model.SessionRecord
	touched int
	failAll error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{records: make(map[SessionKey]*model.SessionRecord)}
}

func (r *fakeSessionRepo) seed(userID, sessionID, jid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[SessionKey{userID, sessionID}] = &model.SessionRecord{
		UserID:    userID,
		SessionID: sessionID,
		JID:       sql.NullString{String: jid, Valid: jid != ""},
		Status:    model.SessionStatusDisconnected,
	}
}

func (r *fakeSessionRepo) status(userID, sessionID string) model.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[SessionKey{userID, sessionID}]; ok {
		return rec.Status
	}
	return ""
}

func (r *fakeSessionRepo) record(userID, sessionID string) model.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[SessionKey{userID, sessionID}]; ok {
		return *rec
	}
	return model.SessionRecord{}
}

func (r *fakeSessionRepo) FindAll(ctx context.Context) ([]model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SessionRecord
	for _, rec := range r.records {
		if rec.Status != model.SessionStatusLoggedOut {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Find(ctx context.Context, userID, sessionID string) (*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[SessionKey{userID, sessionID}]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) Ensure(ctx context.Context, userID, sessionID string, isDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll != nil {
		return r.failAll
	}
	key := SessionKey{userID, sessionID}
	if rec, ok := r.records[key]; ok {
		rec.Status = model.SessionStatusConnecting
		rec.IsDefault = isDefault
		return nil
	}
	r.records[key] = &model.SessionRecord{
		UserID:    userID,
		SessionID: sessionID,
		Status:    model.SessionStatusConnecting,
		IsDefault: isDefault,
	}
	return nil
}

func (r *fakeSessionRepo) SetDefault(ctx context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.records {
		if key.UserID == userID {
			rec.IsDefault = key.SessionID == sessionID
		}
	}
	return nil
}

func (r *fakeSessionRepo) update(userID, sessionID string, fn func(rec *model.SessionRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[SessionKey{userID, sessionID}]
	if !ok {
		return errors.New("no such session")
	}
	fn(rec)
	return nil
}

func (r *fakeSessionRepo) UpdateQR(ctx context.Context, userID, sessionID, code string) error {
	return r.update(userID, sessionID, func(rec *model.SessionRecord) {
		rec.Status = model.SessionStatusQRRequired
		rec.QRCode = sql.NullString{String: code, Valid: true}
	})
}

func (r *fakeSessionRepo) MarkConnected(ctx context.Context, userID, sessionID, jid, phoneNumber string) error {
	return r.update(userID, sessionID, func(rec *model.SessionRecord) {
		rec.Status = model.SessionStatusOnline
		rec.JID = sql.NullString{String: jid, Valid: true}
		rec.PhoneNumber = sql.NullString{String: phoneNumber, Valid: true}
	})
}

func (r *fakeSessionRepo) MarkDisconnected(ctx context.Context, userID, sessionID string, status model.SessionStatus) error {
	return r.update(userID, sessionID, func(rec *model.SessionRecord) {
		rec.Status = status
	})
}

func (r *fakeSessionRepo) Touch(ctx context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched++
	return nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
	err     error
}

func (r *fakeAuditRepo) Log(ctx context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.ResourceType.String == resourceType && e.ResourceID.String == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) byAction(action string) []model.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AuditLog
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ws.WsEvent
}

func (p *fakePublisher) Publish(event ws.WsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) count(event ws.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fakeInbound struct {
	got chan LocationEvent
}

func (f *fakeInbound) HandleLocation(ctx context.Context, key SessionKey, evt LocationEvent) error {
	f.got <- evt
	return nil
}
