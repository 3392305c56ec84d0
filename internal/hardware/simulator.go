package hardware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Simulator is an in-process stand-in for the machine fleet. Faults and
// latency can be injected per machine.
type Simulator struct {
	logger *zap.Logger

	mu      sync.RWMutex
	failing map[string]bool
	latency time.Duration
	cycles  map[string]int
}

func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		logger:  logger,
		failing: make(map[string]bool),
		cycles:  make(map[string]int),
	}
}

// Jam makes every following StartCycle on id fail.
func (s *Simulator) Jam(id string) {
	s.mu.Lock()
	s.failing[id] = true
	s.mu.Unlock()
}

// Clear removes an injected fault.
func (s *Simulator) Clear(id string) {
	s.mu.Lock()
	delete(s.failing, id)
	s.mu.Unlock()
}

// SetLatency delays every StartCycle by d.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Cycles returns how many cycles were started on id.
func (s *Simulator) Cycles(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles[id]
}

func (s *Simulator) StartCycle(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "machine id required")
	}

	s.mu.RLock()
	latency := s.latency
	jammed := s.failing[id]
	s.mu.RUnlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	if jammed {
		s.logger.Warn("cycle start failed", zap.String("machine_id", id))
		return nil, status.Errorf(codes.Unavailable, "machine %s jammed", id)
	}

	s.mu.Lock()
	s.cycles[id]++
	s.mu.Unlock()
	s.logger.Info("cycle started", zap.String("machine_id", id))
	return &emptypb.Empty{}, nil
}
