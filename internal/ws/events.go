package ws

import "time"

type EventType string

const (
	EventSessionStatusChanged EventType = "SESSION_STATUS_CHANGED"
	EventQRGenerated          EventType = "QR_GENERATED"
	EventSessionError         EventType = "SESSION_ERROR"
	EventLocationReceived     EventType = "LOCATION_RECEIVED"
	EventJobProgress          EventType = "JOB_PROGRESS"
	EventJobFinished          EventType = "JOB_FINISHED"
)

// WsEvent adalah envelope yang dikirim ke semua client FE.
type WsEvent struct {
	Event     EventType   `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type SessionStatusData struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	JID       string `json:"jid,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type QRGeneratedData struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	QRString  string `json:"qrString"`
}

type SessionErrorData struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

type LocationReceivedData struct {
	UserID      string   `json:"userId"`
	SessionID   string   `json:"sessionId"`
	Phone       string   `json:"phone"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	CustomerIDs []string `json:"customerIds"`
	Created     bool     `json:"created"`
}

type JobProgressData struct {
	JobID       string `json:"jobId"`
	OwnerUserID string `json:"ownerUserId"`
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
}
