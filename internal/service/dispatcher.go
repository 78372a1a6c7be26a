package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/model"
	"gowa-dispatch/internal/ws"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCancelled JobStatus = "cancelled"
	JobCompleted JobStatus = "completed"
)

// Target is one recipient of a job. Every message goes to the primary phone
// and then, when set, to the secondary phone.
type Target struct {
	CustomerID     string   `json:"customerId,omitempty"`
	Name           string   `json:"name,omitempty"`
	Phone          string   `json:"phone"`
	SecondaryPhone string   `json:"secondaryPhone,omitempty"`
	Messages       []string `json:"messages"`
}

type variant struct {
	to   string
	text string
}

func (t Target) variants() []variant {
	var phones []string
	for _, p := range []string{t.Phone, t.SecondaryPhone} {
		if p = helper.NormalizePhone(p); p != "" {
			phones = append(phones, p)
		}
	}

	var out []variant
	for _, phone := range phones {
		for _, msg := range t.Messages {
			if strings.TrimSpace(msg) == "" {
				continue
			}
			text := helper.RenderMessage(msg, map[string]string{"NAME": t.Name, "PHONE": phone})
			out = append(out, variant{to: phone, text: text})
		}
	}
	return out
}

type JobRequest struct {
	OwnerUserID string
	SessionID   string
	Targets     []Target
	Delay       time.Duration
}

// JobSnapshot is the externally visible progress of a job.
type JobSnapshot struct {
	JobID       string     `json:"jobId"`
	OwnerUserID string     `json:"ownerUserId"`
	SessionID   string     `json:"sessionId"`
	Status      JobStatus  `json:"status"`
	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	DelayMillis int64      `json:"delayMs"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

type job struct {
	id        string
	owner     string
	sessionID string
	targets   []Target
	delay     time.Duration

	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu              sync.Mutex
	status          JobStatus
	cancelRequested bool
	processed int
	succeeded int
	failed    int
	startedAt time.Time
	endedAt   time.Time
}

// requestCancel marks a running job as cancelled and wakes its loop. The
// target in flight still finishes. It reports whether the job was running.
func (j *job) requestCancel() bool {
	j.mu.Lock()
	running := j.status == JobRunning
	if running {
		j.cancelRequested = true
	}
	j.mu.Unlock()

	if running {
		j.cancelOnce.Do(func() { close(j.cancelCh) })
	}
	return running
}

func (j *job) cancelled() bool {
	select {
	case <-j.cancelCh:
		return true
	default:
		return false
	}
}

func (j *job) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := j.status
	if status == JobRunning && j.cancelRequested {
		status = JobCancelled
	}
	snap := JobSnapshot{
		JobID:       j.id,
		OwnerUserID: j.owner,
		SessionID:   j.sessionID,
		Status:      status,
		Total:       len(j.targets),
		Processed:   j.processed,
		Succeeded:   j.succeeded,
		Failed:      j.failed,
		DelayMillis: j.delay.Milliseconds(),
		StartedAt:   j.startedAt,
	}
	if !j.endedAt.IsZero() {
		ended := j.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

type DispatcherConfig struct {
	SendTimeout   time.Duration
	VariantDelay  time.Duration
	Retention     time.Duration
	OperatorPhone string
}

// Dispatcher runs bulk send jobs in the background, one goroutine per job.
type Dispatcher struct {
	cfg      DispatcherConfig
	registry SessionRegistry
	audit    model.AuditRepository
	realtime ws.RealtimePublisher

	mu   sync.RWMutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, registry SessionRegistry, audit model.AuditRepository, realtime ws.RealtimePublisher) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		audit:    audit,
		realtime: realtime,
		jobs:     make(map[string]*job),
	}
}

// Submit registers the job and starts it. It returns as soon as the job is
// visible through Status.
func (d *Dispatcher) Submit(req JobRequest) (string, error) {
	if req.OwnerUserID == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidJob)
	}
	if len(req.Targets) == 0 {
		return "", fmt.Errorf("%w: no targets", ErrInvalidJob)
	}
	if req.Delay < 0 {
		return "", fmt.Errorf("%w: negative delay", ErrInvalidJob)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = d.registry.DefaultSessionID(req.OwnerUserID)
		if sessionID == "" {
			sessionID = DefaultSessionID
		}
	}

	j := &job{
		id:        uuid.NewString(),
		owner:     req.OwnerUserID,
		sessionID: sessionID,
		targets:   append([]Target(nil), req.Targets...),
		delay:     req.Delay,
		cancelCh:  make(chan struct{}),
		status:    JobRunning,
		startedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	d.jobs[j.id] = j
	d.mu.Unlock()

	log.Info().
		Str("job_id", j.id).
		Str("user_id", j.owner).
		Str("session_id", j.sessionID).
		Int("targets", len(j.targets)).
		Dur("delay", j.delay).
		Msg("job submitted")

	d.wg.Add(1)
	go d.run(j)

	return j.id, nil
}

// Cancel marks the job cancelled right away and stops it before its next
// target. The target in flight finishes, including its remaining variants.
func (d *Dispatcher) Cancel(jobID string) error {
	j, ok := d.get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	if j.requestCancel() {
		log.Info().Str("job_id", jobID).Msg("job cancellation requested")
	}
	return nil
}

func (d *Dispatcher) Status(jobID string) (JobSnapshot, error) {
	j, ok := d.get(jobID)
	if !ok {
		return JobSnapshot{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Shutdown cancels running jobs and waits for them until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.RLock()
	for _, j := range d.jobs {
		j.requestCancel()
	}
	d.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) get(jobID string) (*job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[jobID]
	return j, ok
}

func (d *Dispatcher) run(j *job) {
	defer d.wg.Done()

	for i, target := range j.targets {
		if j.cancelled() {
			break
		}

		succeeded, failed := d.runTarget(j, target)

		j.mu.Lock()
		j.processed++
		j.succeeded += succeeded
		j.failed += failed
		j.mu.Unlock()
		d.publishProgress(j, ws.EventJobProgress)

		if i < len(j.targets)-1 && j.delay > 0 {
			timer := time.NewTimer(j.delay)
			select {
			case <-timer.C:
			case <-j.cancelCh:
				timer.Stop()
			}
		}
	}

	j.mu.Lock()
	j.endedAt = time.Now().UTC()
	if j.cancelRequested {
		j.status = JobCancelled
	} else {
		j.status = JobCompleted
	}
	j.mu.Unlock()

	snap := j.snapshot()
	log.Info().
		Str("job_id", j.id).
		Str("status", string(snap.Status)).
		Int("processed", snap.Processed).
		Int("succeeded", snap.Succeeded).
		Int("failed", snap.Failed).
		Dur("duration", snap.EndedAt.Sub(snap.StartedAt)).
		Msg("job finished")

	d.sendSummary(j, snap)
	d.publishProgress(j, ws.EventJobFinished)

	if d.cfg.Retention > 0 {
		time.AfterFunc(d.cfg.Retention, func() {
			d.mu.Lock()
			delete(d.jobs, j.id)
			d.mu.Unlock()
		})
	}
}

// runTarget sends every variant of target in order and never checks for
// cancellation in between.
func (d *Dispatcher) runTarget(j *job, target Target) (succeeded, failed int) {
	variants := target.variants()
	if len(variants) == 0 {
		d.record(j, target, variant{to: target.Phone}, "", ErrNoRecipient)
		return 0, 1
	}

	for i, v := range variants {
		if i > 0 && d.cfg.VariantDelay > 0 {
			time.Sleep(d.cfg.VariantDelay)
		}
		msgID, err := d.send(j, v)
		d.record(j, target, v, msgID, err)
		if err != nil {
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

// send resolves the session right before sending, so a reconnect between
// targets is picked up, and bounds the call by SendTimeout.
func (d *Dispatcher) send(j *job, v variant) (string, error) {
	conn, ok := d.registry.Get(j.owner, j.sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	sender, ok := readySender(conn.Transport())
	if !ok {
		return "", ErrTransportNotReady
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := sender.SendText(ctx, v.to, v.text)
		done <- result{id: id, err: err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, context.DeadlineExceeded) {
			return "", ErrSendTimeout
		}
		return r.id, r.err
	case <-ctx.Done():
		return "", ErrSendTimeout
	}
}

// record writes the audit row for one send attempt. Audit failures are
// logged and never fail the job.
func (d *Dispatcher) record(j *job, target Target, v variant, msgID string, sendErr error) {
	action := model.AuditActionMessageSent
	details := map[string]interface{}{
		"job_id": j.id,
		"to":     v.to,
	}
	if target.Name != "" {
		details["name"] = target.Name
	}
	if msgID != "" {
		details["message_id"] = msgID
	}
	if sendErr != nil {
		action = model.AuditActionMessageFailed
		details["error"] = sendErr.Error()
		log.Warn().Err(sendErr).Str("job_id", j.id).Str("to", v.to).Msg("send failed")
	}

	resourceType, resourceID := model.AuditResourceCustomer, target.CustomerID
	if resourceID == "" {
		resourceType, resourceID = model.AuditResourceJob, j.id
	}
	d.writeAudit(&model.AuditLog{
		UserID:       j.owner,
		SessionID:    model.NullString(j.sessionID),
		Action:       action,
		ResourceType: model.NullString(resourceType),
		ResourceID:   model.NullString(resourceID),
		Details:      details,
	})
}

func (d *Dispatcher) sendSummary(j *job, snap JobSnapshot) {
	var duration time.Duration
	if snap.EndedAt != nil {
		duration = snap.EndedAt.Sub(snap.StartedAt)
	}

	text := fmt.Sprintf("Job %s %s: %d/%d targets processed, %d sent, %d failed in %s",
		snap.JobID, snap.Status, snap.Processed, snap.Total, snap.Succeeded, snap.Failed,
		duration.Round(time.Millisecond))

	details := map[string]interface{}{
		"status":      string(snap.Status),
		"total":       snap.Total,
		"processed":   snap.Processed,
		"succeeded":   snap.Succeeded,
		"failed":      snap.Failed,
		"duration_ms": duration.Milliseconds(),
	}

	if d.cfg.OperatorPhone != "" {
		msgID, err := d.send(j, variant{to: helper.NormalizePhone(d.cfg.OperatorPhone), text: text})
		if err != nil {
			details["summary_error"] = err.Error()
			log.Warn().Err(err).Str("job_id", j.id).Msg("failed to send job summary")
		} else {
			details["summary_message_id"] = msgID
		}
	}

	d.writeAudit(&model.AuditLog{
		UserID:       j.owner,
		SessionID:    model.NullString(j.sessionID),
		Action:       model.AuditActionJobSummary,
		ResourceType: model.NullString(model.AuditResourceJob),
		ResourceID:   model.NullString(j.id),
		Details:      details,
	})
}

func (d *Dispatcher) writeAudit(entry *model.AuditLog) {
	if d.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.audit.Log(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("failed to write audit log")
	}
}

func (d *Dispatcher) publishProgress(j *job, event ws.EventType) {
	if d.realtime == nil {
		return
	}
	snap := j.snapshot()
	d.realtime.Publish(ws.WsEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data: ws.JobProgressData{
			JobID:       snap.JobID,
			OwnerUserID: snap.OwnerUserID,
			Status:      string(snap.Status),
			Total:       snap.Total,
			Processed:   snap.Processed,
			Succeeded:   snap.Succeeded,
			Failed:      snap.Failed,
		},
	})
}
