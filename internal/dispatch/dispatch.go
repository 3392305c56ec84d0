// Package dispatch maps an inbound operation descriptor to a machine
// operation. The identity gate runs once per request before any routing.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/devghori1264/aerophoenix/lockerd/internal/identity"
	"github.com/devghori1264/aerophoenix/lockerd/internal/logging"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/devghori1264/aerophoenix/lockerd/internal/server"
	"go.uber.org/zap"
)

// StatusHardwareError reports a failed hardware start.
const StatusHardwareError = 420

// Operations is the machine API the dispatcher routes to. *server.Server
// implements it.
type Operations interface {
	AllocateMachine(ctx context.Context, locationID, jobID string) (*models.Machine, error)
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	StartMachine(ctx context.Context, id string) (*models.Machine, error)
	ReleaseMachine(ctx context.Context, id string) (*models.Machine, error)
}

// Request describes one inbound operation.
type Request struct {
	Method string
	Path   string
	Token  string
	Body   []byte
}

// Response carries the status code and, when available, the machine
// snapshot. Error is set for non-200 responses.
type Response struct {
	StatusCode int
	Machine    *models.Machine
	Error      string
}

// AllocateBody is the JSON body of POST /machine/request.
type AllocateBody struct {
	LocationID string `json:"locationId"`
	JobID      string `json:"jobId"`
}

var (
	machinePath = regexp.MustCompile(`^/machine/([a-zA-Z0-9-]+)$`)
	startPath   = regexp.MustCompile(`^/machine/([a-zA-Z0-9-]+)/start$`)
	releasePath = regexp.MustCompile(`^/machine/([a-zA-Z0-9-]+)/release$`)
)

type Dispatcher struct {
	ops    Operations
	gate   identity.Gate
	logger *zap.Logger

	// legacyUnroutable answers unmatched requests with 500 instead of 400.
	legacyUnroutable bool
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// WithLegacyUnroutable restores the historical 500 for unmatched requests.
func WithLegacyUnroutable(on bool) Option {
	return func(d *Dispatcher) { d.legacyUnroutable = on }
}

func New(ops Operations, gate identity.Gate, opts ...Option) *Dispatcher {
	d := &Dispatcher{ops: ops, gate: gate, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")
	return d
}

// Dispatch authenticates req and runs the matching operation. It never
// returns an error; every failure is expressed in the Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	if resp, ok := d.Authorize(ctx, req.Token); !ok {
		return resp
	}

	if req.Method == http.MethodPost && req.Path == "/machine/request" {
		var body AllocateBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return Response{StatusCode: http.StatusBadRequest, Error: "invalid JSON payload"}
		}
		return respond(d.ops.AllocateMachine(ctx, body.LocationID, body.JobID))
	}
	if m := machinePath.FindStringSubmatch(req.Path); m != nil && req.Method == http.MethodGet {
		return respond(d.ops.GetMachine(ctx, m[1]))
	}
	if m := startPath.FindStringSubmatch(req.Path); m != nil && req.Method == http.MethodPost {
		return respond(d.ops.StartMachine(ctx, m[1]))
	}
	if m := releasePath.FindStringSubmatch(req.Path); m != nil && req.Method == http.MethodPost {
		return respond(d.ops.ReleaseMachine(ctx, m[1]))
	}

	d.logger.Debug("unroutable request", zap.String("method", req.Method), zap.String("path", req.Path))
	code := http.StatusBadRequest
	if d.legacyUnroutable {
		code = http.StatusInternalServerError
	}
	return Response{StatusCode: code, Error: "no route for " + req.Method + " " + req.Path}
}

// Authorize runs the identity gate alone. When the token is rejected it
// returns the 401 response to send.
func (d *Dispatcher) Authorize(ctx context.Context, token string) (Response, bool) {
	if err := identity.Check(ctx, d.gate, token); err != nil {
		return Response{StatusCode: http.StatusUnauthorized, Error: err.Error()}, false
	}
	return Response{}, true
}

func respond(m *models.Machine, err error) Response {
	if err == nil {
		return Response{StatusCode: http.StatusOK, Machine: m}
	}
	return Response{StatusCode: StatusCode(err), Machine: m, Error: err.Error()}
}

// StatusCode maps an operation error to its response code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, server.ErrBadRequest), errors.Is(err, server.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, server.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, server.ErrHardware):
		return StatusHardwareError
	default:
		return http.StatusInternalServerError
	}
}
