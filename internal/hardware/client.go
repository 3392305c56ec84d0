// Package hardware talks to the physical machines. Commands travel over
// gRPC; any failure, including a deadline, is reported as ErrFault.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrFault marks every failed hardware command.
var ErrFault = errors.New("hardware fault")

// Client issues start commands to machines.
type Client interface {
	StartCycle(ctx context.Context, machineID string) error
}

// GRPCClient implements Client against the hardware gRPC service.
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
}

// Dial connects to the hardware service at addr. Each command is bounded by
// timeout when it is positive.
func Dial(addr string, timeout time.Duration) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial hardware %s: %w", addr, err)
	}
	c := NewGRPCClient(conn, timeout)
	c.closer = conn.Close
	return c, nil
}

// NewGRPCClient wraps an existing connection. The caller keeps ownership of
// conn.
func NewGRPCClient(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCClient {
	return &GRPCClient{conn: conn, timeout: timeout}
}

func (c *GRPCClient) StartCycle(ctx context.Context, machineID string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, startCycleFullRPC, wrapperspb.String(machineID), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("%w: start cycle on %s: %w", ErrFault, machineID, err)
	}
	return nil
}

func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
