package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/model"
)

// WhatsmeowFactory builds whatsmeow clients backed by the sqlstore device
// container. The jid linking a session to its device lives in the sessions table.
type WhatsmeowFactory struct {
	container *sqlstore.Container
	sessions  model.SessionRepository
}

func NewWhatsmeowFactory(container *sqlstore.Container, sessions model.SessionRepository, deviceName string) *WhatsmeowFactory {
	// global setting, harus diset sebelum device baru dibuat
	store.DeviceProps.Os = proto.String(deviceName)
	return &WhatsmeowFactory{container: container, sessions: sessions}
}

func (f *WhatsmeowFactory) New(ctx context.Context, key SessionKey, sink EventSink) (Transport, bool, error) {
	device, err := f.loadDevice(ctx, key)
	if err != nil {
		return nil, false, err
	}
	restored := device != nil
	if device == nil {
		device = f.container.NewDevice()
	}

	clientLog := waLog.Zerolog(log.Logger.With().
		Str("component", "whatsmeow").
		Str("user_id", key.UserID).
		Str("session_id", key.SessionID).
		Logger())
	client := whatsmeow.NewClient(device, clientLog)
	// reconnect diatur supervisor, bukan library
	client.EnableAutoReconnect = false

	t := &whatsmeowTransport{client: client, sink: sink, key: key}
	client.AddEventHandler(t.handleEvent)
	return t, restored, nil
}

func (f *WhatsmeowFactory) loadDevice(ctx context.Context, key SessionKey) (*store.Device, error) {
	rec, err := f.sessions.Find(ctx, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	if rec == nil || !rec.JID.Valid || rec.JID.String == "" {
		return nil, nil
	}

	jid, err := types.ParseJID(rec.JID.String)
	if err != nil {
		log.Warn().Err(err).Str("jid", rec.JID.String).Msg("stored jid is invalid, pairing again")
		return nil, nil
	}
	device, err := f.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", jid, err)
	}
	if device == nil || device.ID == nil {
		return nil, nil
	}
	return device, nil
}

type whatsmeowTransport struct {
	client *whatsmeow.Client
	sink   EventSink
	key    SessionKey
}

func (t *whatsmeowTransport) Connect() error {
	return t.client.Connect()
}

func (t *whatsmeowTransport) Close() {
	t.client.Disconnect()
}

// Logout unlinks the device. When the server already dropped us the local
// device store is deleted instead.
func (t *whatsmeowTransport) Logout(ctx context.Context) error {
	if t.client.IsLoggedIn() {
		err := t.client.Logout(ctx)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("session", t.key.String()).Msg("logout request failed, deleting device store")
	}
	if t.client.Store.ID == nil {
		return nil
	}
	return t.client.Store.Delete(ctx)
}

func (t *whatsmeowTransport) IsReady() bool {
	return t.client.IsConnected() && t.client.IsLoggedIn()
}

func (t *whatsmeowTransport) KeepAlive(ctx context.Context) error {
	return t.client.SendPresence(ctx, types.PresenceAvailable)
}

func (t *whatsmeowTransport) JID() string {
	if t.client.Store.ID == nil {
		return ""
	}
	return t.client.Store.ID.String()
}

func (t *whatsmeowTransport) SendText(ctx context.Context, to, text string) (string, error) {
	if !t.client.IsLoggedIn() {
		return "", ErrTransportNotReady
	}
	recipient, err := helper.PhoneToJID(to)
	if err != nil {
		return "", err
	}
	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	resp, err := t.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrSendTimeout
		}
		return "", err
	}
	return resp.ID, nil
}

func (t *whatsmeowTransport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) > 0 {
			t.sink(QREvent{Code: v.Codes[0]})
		}

	case *events.PairSuccess:
		log.Info().Str("session", t.key.String()).Str("jid", v.ID.String()).Msg("device paired")

	case *events.Connected:
		t.sink(OpenEvent{JID: t.JID()})

	case *events.Disconnected:
		t.sink(ClosedEvent{Reason: "disconnected"})

	case *events.StreamReplaced:
		// sesi dibuka di tempat lain, jangan rebutan reconnect
		t.sink(ClosedEvent{Reason: "stream replaced", Permanent: true})

	case *events.LoggedOut:
		t.sink(ClosedEvent{Reason: fmt.Sprintf("logged out: %s", v.Reason.String()), Permanent: true, LoggedOut: true})

	case *events.ConnectFailure:
		loggedOut := v.Reason.IsLoggedOut()
		t.sink(ClosedEvent{
			Reason:    fmt.Sprintf("connect failure: %s %s", v.Reason.String(), v.Message),
			Permanent: loggedOut,
			LoggedOut: loggedOut,
		})

	case *events.TemporaryBan:
		t.sink(ClosedEvent{Reason: v.String(), Permanent: true})

	case *events.Message:
		if v.Info.IsFromMe || v.Message == nil {
			return
		}
		from, ok := phoneSender(v.Info.MessageSource)
		if !ok {
			log.Debug().Str("session", t.key.String()).Str("sender", v.Info.Sender.String()).Msg("sender has no phone jid, skipped")
			return
		}
		if loc := v.Message.GetLocationMessage(); loc != nil {
			label := loc.GetName()
			if label == "" {
				label = loc.GetAddress()
			}
			t.sink(LocationEvent{
				From:       from,
				SenderName: v.Info.PushName,
				Latitude:   loc.GetDegreesLatitude(),
				Longitude:  loc.GetDegreesLongitude(),
				Label:      label,
			})
			return
		}
		if live := v.Message.GetLiveLocationMessage(); live != nil {
			t.sink(LocationEvent{
				From:       from,
				SenderName: v.Info.PushName,
				Latitude:   live.GetDegreesLatitude(),
				Longitude:  live.GetDegreesLongitude(),
				Label:      live.GetCaption(),
			})
		}
	}
}

// phoneSender returns the sender as a phone-number JID. LID senders are
// resolved through SenderAlt when the server provided one.
func phoneSender(src types.MessageSource) (string, bool) {
	if src.Sender.Server == types.DefaultUserServer {
		return src.Sender.ToNonAD().String(), true
	}
	if src.Sender.Server == types.HiddenUserServer && src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt.ToNonAD().String(), true
	}
	return "", false
}
