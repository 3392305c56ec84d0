package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject carries machine lifecycle events.
const DefaultSubject = "lockerd.machines.events"

type Publisher struct {
	nc      *nats.Conn
	url     string
	subject string
}

func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	opts := []nats.Option{
		nats.Name("lockerd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Publisher{nc: nc, url: url, subject: subject}, nil
}

func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// PublishEvent sends ev as JSON on the publisher's subject.
func (p *Publisher) PublishEvent(ctx context.Context, ev models.MachineEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.Publish(ctx, p.subject, payload)
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}
