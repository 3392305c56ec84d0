package natsclient

import (
	"context"
	"testing"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
)

func TestPublisher_NotConnected(t *testing.T) {
	p := &Publisher{subject: DefaultSubject}
	ev := models.NewMachineEvent(models.EventStarted, "m-1", nil)
	if err := p.PublishEvent(context.Background(), ev); err == nil {
		t.Fatal("PublishEvent without a connection should fail")
	}
	p.Close()
}

func TestNewPublisher_Unreachable(t *testing.T) {
	if _, err := NewPublisher("nats://127.0.0.1:1", "", nil); err == nil {
		t.Fatal("NewPublisher to a closed port should fail")
	}
}
