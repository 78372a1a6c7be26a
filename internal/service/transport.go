package service

import (
	"context"
	"fmt"
)

// SessionKey identifies one logical chat login.
type SessionKey struct {
	UserID    string
	SessionID string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.SessionID)
}

// TransportEvent is a lifecycle or inbound event reported by a transport.
type TransportEvent interface {
	transportEvent()
}

// QREvent carries a pairing code that must be scanned on the phone.
type QREvent struct {
	Code string
}

// OpenEvent means the socket is up. It does not mean the session can send yet.
type OpenEvent struct {
	JID string
}

// ClosedEvent means the socket went away. Permanent closures are never
// retried; LoggedOut additionally means the stored credentials are void.
type ClosedEvent struct {
	Reason    string
	Permanent bool
	LoggedOut bool
}

// LocationEvent is an inbound location share.
type LocationEvent struct {
	From       string
	SenderName string
	Latitude   float64
	Longitude  float64
	Label      string
}

func (QREvent) transportEvent()       {}
func (OpenEvent) transportEvent()     {}
func (ClosedEvent) transportEvent()   {}
func (LocationEvent) transportEvent() {}

// EventSink receives the events of exactly one transport, in order.
type EventSink func(evt TransportEvent)

// Transport is the handle a protocol library gives us for one session.
// The registry owns it; everyone else borrows it for a single operation.
type Transport interface {
	Connect() error
	// Close drops the socket and keeps the credentials.
	Close()
	// Logout unlinks the device and forgets the credentials.
	Logout(ctx context.Context) error
	IsReady() bool
	KeepAlive(ctx context.Context) error
	JID() string
}

// MessageSender is implemented by transports that can deliver text.
type MessageSender interface {
	SendText(ctx context.Context, to, text string) (string, error)
}

// TransportFactory allocates transports. restored reports whether persisted
// credentials were found for the session.
type TransportFactory interface {
	New(ctx context.Context, key SessionKey, sink EventSink) (t Transport, restored bool, err error)
}

// readySender is the one readiness predicate: a handle exists, it can send,
// and it says it is ready right now.
func readySender(t Transport) (MessageSender, bool) {
	if t == nil {
		return nil, false
	}
	sender, ok := t.(MessageSender)
	if !ok {
		return nil, false
	}
	if !t.IsReady() {
		return nil, false
	}
	return sender, true
}
