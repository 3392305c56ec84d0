package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/api"
	"github.com/devghori1264/aerophoenix/lockerd/internal/cache"
	"github.com/devghori1264/aerophoenix/lockerd/internal/dispatch"
	"github.com/devghori1264/aerophoenix/lockerd/internal/identity"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/devghori1264/aerophoenix/lockerd/internal/server"
	"github.com/devghori1264/aerophoenix/lockerd/internal/storage"
)

type okHardware struct{}

func (okHardware) StartCycle(context.Context, string) error { return nil }

func newDaemon(t *testing.T) string {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.SaveMachine(context.Background(), &models.Machine{
		ID: "m-1", LocationID: "loc", Status: models.StatusAvailable, Version: 1,
	}); err != nil {
		t.Fatal(err)
	}
	srv := server.New(store, cache.New(time.Minute, nil), okHardware{})
	ts := httptest.NewServer(api.NewHTTPHandler(dispatch.New(srv, identity.NewStaticGate("tok")), nil))
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_RequestStartGet(t *testing.T) {
	url := newDaemon(t)
	common := []string{"--server", url, "--token", "tok"}

	out, err := runCLI(t, append(common, "request", "--location", "loc", "--job", "job-1")...)
	if err != nil {
		t.Fatalf("request error = %v (%s)", err, out)
	}
	if !strings.Contains(out, "AWAITING_DROPOFF") || !strings.Contains(out, "job-1") {
		t.Fatalf("request output = %q", out)
	}

	if out, err := runCLI(t, append(common, "start", "m-1")...); err != nil {
		t.Fatalf("start error = %v (%s)", err, out)
	}

	out, err = runCLI(t, append(common, "--json", "get", "m-1")...)
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	var body api.MachineResponse
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("get --json output not JSON: %v\n%s", err, out)
	}
	if body.Machine.Status != models.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", body.Machine.Status)
	}
}

func TestCLI_FailureStatusIsError(t *testing.T) {
	url := newDaemon(t)

	out, err := runCLI(t, "--server", url, "--token", "tok", "start", "m-1")
	if err == nil {
		t.Fatalf("start on AVAILABLE machine should fail, output %q", out)
	}
	if !strings.Contains(out, "400") {
		t.Fatalf("output = %q, want status 400", out)
	}

	if _, err := runCLI(t, "--server", url, "--token", "wrong", "get", "m-1"); err == nil {
		t.Fatal("bad token should fail")
	}
}

func TestCLI_Ping(t *testing.T) {
	url := newDaemon(t)
	out, err := runCLI(t, "--server", url, "ping")
	if err != nil {
		t.Fatalf("ping error = %v", err)
	}
	if !strings.Contains(out, "pong") {
		t.Fatalf("ping output = %q", out)
	}
}

func TestCLI_RequestNeedsFlags(t *testing.T) {
	if _, err := runCLI(t, "request", "--location", "loc"); err == nil {
		t.Fatal("request without --job should fail")
	}
}
