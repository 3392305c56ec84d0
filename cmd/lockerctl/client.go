package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/api"
	"github.com/devghori1264/aerophoenix/lockerd/internal/dispatch"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

type result struct {
	code int
	body api.MachineResponse
}

func newClient(opts *globalOptions) *client {
	return &client{
		base:  strings.TrimRight(opts.server, "/"),
		token: opts.token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ping", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ping: %w", err)
	}
	return out["msg"], nil
}

func (c *client) request(ctx context.Context, location, job string) (*result, error) {
	body, err := json.Marshal(dispatch.AllocateBody{LocationID: location, JobID: job})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/machine/request", bytes.NewReader(body))
}

func (c *client) get(ctx context.Context, id string) (*result, error) {
	return c.do(ctx, http.MethodGet, "/machine/"+id, nil)
}

func (c *client) start(ctx context.Context, id string) (*result, error) {
	return c.do(ctx, http.MethodPost, "/machine/"+id+"/start", nil)
}

func (c *client) release(ctx context.Context, id string) (*result, error) {
	return c.do(ctx, http.MethodPost, "/machine/"+id+"/release", nil)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) (*result, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	res := &result{code: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&res.body); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return res, nil
}
