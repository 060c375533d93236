// Package run drives one submission end to end: preflight, session
// bootstrap, the run stream, and delivery polling.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"adflow/internal/agentevent"
	"adflow/internal/backend"
	"adflow/internal/logging"
	"adflow/internal/metrics"
	"adflow/internal/retry"
	"adflow/internal/sse"
)

const (
	DefaultHealthAttempts   = 60
	DefaultHealthInterval   = 2 * time.Second
	DefaultDeliveryAttempts = 20
	DefaultDeliveryInterval = 3 * time.Second
)

// ErrDeliveryPending is returned when the artifact never became available.
var ErrDeliveryPending = errors.New("delivery not ready")

// Backend is the subset of the backend client a Runner needs.
type Backend interface {
	RunPreflight(ctx context.Context, text string, refs backend.References) (*backend.Preflight, error)
	CreateSession(ctx context.Context, initialState map[string]any) (backend.Session, error)
	StartRun(ctx context.Context, sess backend.Session, text string) (io.ReadCloser, error)
	DeliveryMeta(ctx context.Context, sess backend.Session) (backend.DeliveryMeta, error)
}

type Config struct {
	Preflight        bool
	Retry            retry.Policy
	DeliveryAttempts int
	DeliveryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Preflight:        true,
		Retry:            retry.DefaultPolicy(),
		DeliveryAttempts: DefaultDeliveryAttempts,
		DeliveryInterval: DefaultDeliveryInterval,
	}
}

type Request struct {
	Text string
	// Session is nil on the first submission of a conversation.
	Session    *backend.Session
	References backend.References
}

// Update is one step reported by Submit. Implementations: SessionReady,
// Blocked, EventReceived, Finished.
type Update interface {
	isUpdate()
}

type SessionReady struct {
	Session backend.Session
}

type Blocked struct {
	Preflight *backend.Preflight
}

// Message is the chat text shown for the rejection.
func (b Blocked) Message() string {
	return b.Preflight.Notice()
}

type EventReceived struct {
	Event agentevent.Event
}

// Finished is always the last update of a submission.
type Finished struct {
	Err       error
	Blocked   bool
	Frames    int
	Malformed int
	Elapsed   time.Duration
}

func (SessionReady) isUpdate()  {}
func (Blocked) isUpdate()       {}
func (EventReceived) isUpdate() {}
func (Finished) isUpdate()      {}

type Runner struct {
	backend Backend
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRunner(b Backend, cfg Config, log *slog.Logger, m *metrics.Metrics) *Runner {
	if log == nil {
		log = logging.Discard()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		backend: b,
		cfg:     cfg,
		log:     logging.WithComponent(log, "run"),
		metrics: m,
		sleep:   sleepContext,
	}
}

// Submit runs one user message. Updates are emitted synchronously, in order,
// from the calling goroutine; Finished is emitted exactly once.
func (r *Runner) Submit(ctx context.Context, req Request, emit func(Update)) {
	start := time.Now()
	ctx = context.WithValue(ctx, logging.ContextKeyRunID, uuid.NewString())
	fin := Finished{}
	defer func() {
		fin.Elapsed = time.Since(start)
		outcome := metrics.Outcome(fin.Err)
		if fin.Blocked {
			outcome = "blocked"
		}
		r.metrics.Runs.WithLabelValues(outcome).Inc()
		r.metrics.RunDuration.Observe(fin.Elapsed.Seconds())
		emit(fin)
	}()

	var sess backend.Session
	if req.Session != nil {
		sess = *req.Session
	} else {
		initialState := map[string]any{}
		if r.cfg.Preflight {
			pre, err := r.backend.RunPreflight(ctx, req.Text, req.References)
			if err != nil {
				fin.Err = err
				return
			}
			switch {
			case pre == nil:
				r.metrics.Preflights.WithLabelValues("skipped").Inc()
			case pre.Blocked:
				r.metrics.Preflights.WithLabelValues("blocked").Inc()
				r.log.Info("preflight blocked the brief", "message", pre.Message)
				emit(Blocked{Preflight: pre})
				fin.Blocked = true
				return
			default:
				r.metrics.Preflights.WithLabelValues("ok").Inc()
				if pre.InitialState != nil {
					initialState = pre.InitialState
				}
			}
		}
		created, err := retry.Value(ctx, r.policy("create_session"), func(ctx context.Context) (backend.Session, error) {
			return r.backend.CreateSession(ctx, initialState)
		})
		if err != nil {
			fin.Err = fmt.Errorf("create session: %w", err)
			return
		}
		sess = created
		emit(SessionReady{Session: sess})
	}

	ctx = context.WithValue(ctx, logging.ContextKeySessionID, sess.SessionID)
	log := logging.WithContext(ctx, r.log)

	body, err := retry.Value(ctx, r.policy("run_sse"), func(ctx context.Context) (io.ReadCloser, error) {
		return r.backend.StartRun(ctx, sess, req.Text)
	})
	if err != nil {
		fin.Err = fmt.Errorf("start run: %w", err)
		return
	}
	defer body.Close()

	err = sse.Stream(ctx, body, func(frame sse.Frame) {
		fin.Frames++
		r.metrics.Frames.Inc()
		ev := agentevent.Parse(frame.Data)
		if ev.Malformed() {
			fin.Malformed++
			r.metrics.MalformedFrames.Inc()
			log.Warn("skipping malformed stream frame", "err", ev.Err, "raw", ev.Raw)
			return
		}
		emit(EventReceived{Event: ev})
	})
	if err != nil {
		fin.Err = fmt.Errorf("read run stream: %w", err)
		return
	}
	log.Info("run stream finished", "frames", fin.Frames, "malformed", fin.Malformed, "elapsed", time.Since(start).Round(time.Millisecond))
}

// WaitDelivery checks the delivery metadata immediately and then at the
// configured interval until ok is reported or the attempts run out.
func (r *Runner) WaitDelivery(ctx context.Context, sess backend.Session, onAttempt func(attempt int)) (backend.DeliveryMeta, error) {
	attempts := r.cfg.DeliveryAttempts
	if attempts <= 0 {
		attempts = DefaultDeliveryAttempts
	}
	interval := r.cfg.DeliveryInterval
	if interval <= 0 {
		interval = DefaultDeliveryInterval
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		meta, err := r.backend.DeliveryMeta(ctx, sess)
		if err == nil && meta.OK {
			return meta, nil
		}
		if err != nil {
			last = err
			r.log.Debug("delivery meta not available", "attempt", attempt, "err", err)
		}
		if attempt == attempts {
			break
		}
		if err := r.sleep(ctx, interval); err != nil {
			return backend.DeliveryMeta{}, err
		}
	}
	if last != nil {
		return backend.DeliveryMeta{}, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryPending, attempts, last)
	}
	return backend.DeliveryMeta{}, fmt.Errorf("%w after %d attempts", ErrDeliveryPending, attempts)
}

func (r *Runner) policy(op string) retry.Policy {
	p := r.cfg.Retry
	counter := r.metrics.Retries.WithLabelValues(op)
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		counter.Inc()
		r.log.Warn("retrying backend call", "op", op, "attempt", attempt, "delay", delay, "err", err)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
