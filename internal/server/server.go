package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/cache"
	"github.com/devghori1264/aerophoenix/lockerd/internal/hardware"
	"github.com/devghori1264/aerophoenix/lockerd/internal/logging"
	"github.com/devghori1264/aerophoenix/lockerd/internal/metrics"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
	"github.com/devghori1264/aerophoenix/lockerd/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Operation outcomes. Every error returned by Server matches exactly one.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("machine not found")
	ErrInvalidState = errors.New("invalid machine state")
	ErrHardware     = errors.New("hardware error")
	ErrInternal     = errors.New("internal error")
)

// EventPublisher receives an event after every committed transition.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.MachineEvent) error
}

// Server implements the machine operations and drives the lifecycle FSM:
//
//	AVAILABLE --allocate--> AWAITING_DROPOFF --start ok--> RUNNING
//	                              |
//	                              +--start fault--> ERROR
//	RUNNING, ERROR --release--> AVAILABLE
//
// The store is authoritative. After every mutation the server re-reads the
// row and refreshes the cache with that snapshot.
type Server struct {
	store    storage.Store
	cache    *cache.Cache
	hardware hardware.Client
	events   EventPublisher
	logger   *zap.Logger
	tracer   trace.Tracer

	// operations mutex per machine id or location, dropped once unused
	opMu    sync.Mutex
	opLocks map[string]*opLock
}

type opLock struct {
	sync.Mutex
	refs int
}

type Option func(*Server)

func WithEvents(p EventPublisher) Option {
	return func(s *Server) { s.events = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// New creates a new server instance. A nil cache selects the process-wide
// cache.
func New(store storage.Store, c *cache.Cache, hw hardware.Client, opts ...Option) *Server {
	if c == nil {
		c = cache.Shared()
	}
	s := &Server{
		store:    store,
		cache:    c,
		hardware: hw,
		logger:   zap.NewNop(),
		opLocks:  make(map[string]*opLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer(nil)
	}
	s.logger = s.logger.Named("server")
	return s
}

var (
	allocatable = []models.Status{models.StatusAvailable}
	startable   = []models.Status{models.StatusAwaitingDropoff}
	releasable  = []models.Status{models.StatusRunning, models.StatusError}
)

// AllocateMachine binds jobID to the first available machine at locationID,
// in store order. Allocations for one location are serialized in-process and
// each claim is a single conditional store write, so a machine lost to a
// concurrent writer is skipped in favor of the next candidate.
func (s *Server) AllocateMachine(ctx context.Context, locationID, jobID string) (_ *models.Machine, err error) {
	ctx, finish := s.observe(ctx, "allocate",
		attribute.String("location.id", locationID),
		attribute.String("job.id", jobID))
	defer func() { finish(err) }()

	if locationID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: locationId and jobId required", ErrBadRequest)
	}

	s.acquireOpLock("location:" + locationID)
	defer s.releaseOpLock("location:" + locationID)

	candidates, err := s.store.ListAtLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("%w: list machines at %s: %w", ErrInternal, locationID, err)
	}

	claim := models.Transition{From: allocatable, To: models.StatusAwaitingDropoff, JobID: &jobID}
	for _, c := range candidates {
		if c.Status != models.StatusAvailable {
			continue
		}
		err := s.store.Transition(ctx, c.ID, claim)
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("allocation candidate lost", zap.String("machine_id", c.ID), zap.Error(err))
			continue
		}
		if err != nil {
			s.cache.Invalidate(c.ID, c.Version+1)
			return nil, fmt.Errorf("%w: claim %s: %w", ErrInternal, c.ID, err)
		}

		m, err := s.reread(ctx, c.ID, "allocate", c.Version+1)
		if err != nil {
			return nil, err
		}
		s.cache.Put(m.ID, m)
		s.publish(ctx, models.EventAllocated, m.ID, m)
		s.logger.Info("machine allocated",
			zap.String("machine_id", m.ID),
			zap.String("location_id", locationID),
			zap.String("job_id", jobID))
		return m, nil
	}

	return nil, fmt.Errorf("%w: no available machine at location %s", ErrNotFound, locationID)
}

// GetMachine returns the cached snapshot when present, otherwise reads the
// store and caches the result. A hit may be slightly stale relative to
// writes made by other processes.
func (s *Server) GetMachine(ctx context.Context, id string) (_ *models.Machine, err error) {
	ctx, finish := s.observe(ctx, "get", attribute.String("machine.id", id))
	defer func() { finish(err) }()

	if m, ok := s.cache.Get(id); ok {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("cache.hit", true))
		return m, nil
	}

	m, err := s.store.GetMachine(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrInternal, id, err)
	}
	s.cache.Put(id, m)
	return m, nil
}

// StartMachine starts a cycle on a machine awaiting drop-off. Starts on one
// machine are serialized, so an immediate second start observes RUNNING and
// never reaches the hardware. A hardware failure parks the machine in ERROR.
//
// On ErrInvalidState and ErrHardware the returned machine is the current
// snapshot (nil if it could not be read).
func (s *Server) StartMachine(ctx context.Context, id string) (_ *models.Machine, err error) {
	ctx, finish := s.observe(ctx, "start", attribute.String("machine.id", id))
	defer func() { finish(err) }()

	s.acquireOpLock("machine:" + id)
	defer s.releaseOpLock("machine:" + id)

	m, err := s.store.GetMachine(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrInternal, id, err)
	}
	if m.Status != models.StatusAwaitingDropoff {
		return m, fmt.Errorf("%w: machine %s is %s", ErrInvalidState, id, m.Status)
	}

	// detached from the caller; only the hardware client's timeout bounds
	// the command, and its outcome is always recorded
	ctx = context.WithoutCancel(ctx)

	if hwErr := s.hardware.StartCycle(ctx, id); hwErr != nil {
		metrics.HardwareCalls.WithLabelValues("fault").Inc()
		return s.fault(ctx, m, hwErr)
	}
	metrics.HardwareCalls.WithLabelValues("ok").Inc()

	if err := s.store.Transition(ctx, id, models.Transition{From: startable, To: models.StatusRunning}); err != nil {
		s.cache.Invalidate(id, m.Version+1)
		s.logger.Error("cycle started but RUNNING not recorded", zap.String("machine_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: record start of %s: %w", ErrInternal, id, err)
	}
	updated, err := s.reread(ctx, id, "start", m.Version+1)
	if err != nil {
		return nil, err
	}
	s.cache.Put(id, updated)
	s.publish(ctx, models.EventStarted, id, updated)
	return updated, nil
}

// fault records a failed hardware start. The ERROR write is mandatory; the
// follow-up re-read and cache refresh are best effort.
func (s *Server) fault(ctx context.Context, m *models.Machine, hwErr error) (*models.Machine, error) {
	id := m.ID
	s.logger.Warn("hardware start failed", zap.String("machine_id", id), zap.Error(hwErr))

	if err := s.store.UpdateStatus(ctx, id, models.StatusError); err != nil {
		s.cache.Invalidate(id, m.Version+1)
		s.logger.Error("hardware fault not recorded", zap.String("machine_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: record fault of %s: %w", ErrInternal, id, errors.Join(err, hwErr))
	}

	snapshot, err := s.store.GetMachine(ctx, id)
	if err != nil {
		s.cache.Invalidate(id, m.Version+1)
		s.logger.Warn("faulted machine unreadable", zap.String("machine_id", id), zap.Error(err))
		snapshot = nil
	} else {
		s.cache.Put(id, snapshot)
	}
	s.publish(ctx, models.EventFaulted, id, snapshot)
	return snapshot, fmt.Errorf("%w: %w", ErrHardware, hwErr)
}

// ReleaseMachine returns a RUNNING or ERROR machine to AVAILABLE and clears
// its job. This is the end of a cycle and the recovery path for faults.
func (s *Server) ReleaseMachine(ctx context.Context, id string) (_ *models.Machine, err error) {
	ctx, finish := s.observe(ctx, "release", attribute.String("machine.id", id))
	defer func() { finish(err) }()

	s.acquireOpLock("machine:" + id)
	defer s.releaseOpLock("machine:" + id)

	noJob := ""
	err = s.store.Transition(ctx, id, models.Transition{From: releasable, To: models.StatusAvailable, JobID: &noJob})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, storage.ErrConflict):
		current, gerr := s.store.GetMachine(ctx, id)
		if gerr != nil {
			current = nil
		}
		return current, fmt.Errorf("%w: %w", ErrInvalidState, err)
	case err != nil:
		s.cache.Invalidate(id, 0)
		return nil, fmt.Errorf("%w: release %s: %w", ErrInternal, id, err)
	}

	m, err := s.reread(ctx, id, "release", 0)
	if err != nil {
		return nil, err
	}
	s.cache.Put(id, m)
	s.publish(ctx, models.EventReleased, id, m)
	return m, nil
}

// reread fetches the post-mutation snapshot. Failure means the store
// accepted a write this process cannot observe, which is logged as a
// correctness alarm. floor is the lowest version the write produced, or 0
// when unknown.
func (s *Server) reread(ctx context.Context, id, op string, floor int64) (*models.Machine, error) {
	m, err := s.store.GetMachine(ctx, id)
	if err != nil {
		s.cache.Invalidate(id, floor)
		s.logger.Error("mutation applied but machine unreadable",
			zap.String("operation", op),
			zap.String("machine_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("%w: re-read %s after %s: %w", ErrInternal, id, op, err)
	}
	return m, nil
}

func (s *Server) publish(ctx context.Context, event, id string, m *models.Machine) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, models.NewMachineEvent(event, id, m)); err != nil {
		metrics.Events.WithLabelValues("error").Inc()
		s.logger.Warn("publish event failed", zap.String("event", event), zap.String("machine_id", id), zap.Error(err))
		return
	}
	metrics.Events.WithLabelValues("ok").Inc()
}

// observe opens a span for op and returns a finisher that records latency,
// outcome and span status.
func (s *Server) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "machine."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		outcome := Outcome(err)
		metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.Operations.WithLabelValues(op, outcome).Inc()
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Outcome names the class of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrHardware):
		return "hardware_error"
	default:
		return "internal_error"
	}
}

// acquireOpLock ensures only one op per key at a time.
func (s *Server) acquireOpLock(key string) {
	s.opMu.Lock()
	l, ok := s.opLocks[key]
	if !ok {
		l = &opLock{}
		s.opLocks[key] = l
	}
	l.refs++
	s.opMu.Unlock()

	l.Lock()
}

// releaseOpLock releases the op lock and forgets the key once no caller
// holds or waits on it.
func (s *Server) releaseOpLock(key string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	l, ok := s.opLocks[key]
	if !ok {
		return
	}
	l.Unlock()
	if l.refs--; l.refs == 0 {
		delete(s.opLocks, key)
	}
}
