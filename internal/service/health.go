package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/model"
)

// IsHealthy reports whether conn can send right now. A connected flag
// without transport readiness is not enough.
func IsHealthy(conn *Connection) bool {
	if conn == nil {
		return false
	}
	_, ok := readySender(conn.Transport())
	return ok
}

// HealthMonitor runs the periodic readiness and keep-alive sweeps over
// every registered session.
type HealthMonitor struct {
	supervisor        *Supervisor
	sessions          model.SessionRepository
	sweepInterval     time.Duration
	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration

	cron *cron.Cron
}

func NewHealthMonitor(supervisor *Supervisor, sessions model.SessionRepository, sweepInterval, keepAliveInterval time.Duration) *HealthMonitor {
	logger := cronLogger{log: log.With().Str("component", "health").Logger()}
	return &HealthMonitor{
		supervisor:        supervisor,
		sessions:          sessions,
		sweepInterval:     sweepInterval,
		keepAliveInterval: keepAliveInterval,
		keepAliveTimeout:  15 * time.Second,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

func (h *HealthMonitor) Start() {
	h.cron.Schedule(cron.Every(h.sweepInterval), cron.FuncJob(func() { h.SweepReadiness() }))
	h.cron.Schedule(cron.Every(h.keepAliveInterval), cron.FuncJob(func() { h.SweepKeepAlive() }))
	h.cron.Start()
	log.Info().
		Dur("sweep_interval", h.sweepInterval).
		Dur("keepalive_interval", h.keepAliveInterval).
		Msg("health monitor started")
}

// Stop waits for running sweeps to finish.
func (h *HealthMonitor) Stop() {
	<-h.cron.Stop().Done()
}

// SweepReadiness promotes connecting sessions whose transport came up and is
// already ready. It returns how many were promoted.
func (h *HealthMonitor) SweepReadiness() int {
	promoted := 0
	for _, conn := range h.supervisor.Registry().All() {
		if conn.State() != StateConnecting || !IsHealthy(conn) {
			continue
		}
		h.supervisor.Promote(conn)
		if conn.State() == StateOpen {
			promoted++
		}
	}
	if promoted > 0 {
		log.Info().Int("promoted", promoted).Msg("readiness sweep promoted sessions")
	}
	return promoted
}

// SweepKeepAlive pings every open session. Failures are only logged; the
// transport reports a real disconnect through its own events.
func (h *HealthMonitor) SweepKeepAlive() {
	for _, conn := range h.supervisor.Registry().All() {
		if conn.State() != StateOpen {
			continue
		}
		t := conn.Transport()
		if t == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.keepAliveTimeout)
		err := t.KeepAlive(ctx)
		if err == nil && h.sessions != nil {
			err = h.sessions.Touch(ctx, conn.Key.UserID, conn.Key.SessionID)
		}
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("session", conn.Key.String()).Msg("keep-alive failed")
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
