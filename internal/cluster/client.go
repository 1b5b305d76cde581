package cluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultProbeTimeout   = 1 * time.Second
	DefaultStatusTimeout  = 2 * time.Second
)

// ClientConfig holds the per-call timeouts.
type ClientConfig struct {
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	StatusTimeout  time.Duration
	MaxConns       int
}

// Client talks to cluster members over the /api surface.
// One Client is shared by every worker.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2000
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.MaxConns
	t.MaxConnsPerHost = cfg.MaxConns
	t.MaxIdleConnsPerHost = cfg.MaxConns
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	// Timeouts are applied per call through the request context.
	return &Client{cfg: cfg, httpc: &http.Client{Transport: t}}
}

func (c *Client) Config() ClientConfig { return c.cfg }

func endpoint(t Target, path string) string {
	return fmt.Sprintf("http://%s%s", t.String(), path)
}

// getJSON issues a GET bounded by timeout and decodes a 200 body into out.
func (c *Client) getJSON(ctx context.Context, t Target, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(t, path), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", t, path, resp.StatusCode, bytes.TrimSpace(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Leader returns the leader address as reported by t, in the cluster's
// internal addressing (e.g. "node0:8081"). Empty means t knows no leader.
func (c *Client) Leader(ctx context.Context, t Target) (string, error) {
	var body struct {
		Leader string `json:"leader"`
	}
	if err := c.getJSON(ctx, t, "/api/leader", c.cfg.ProbeTimeout, &body); err != nil {
		return "", err
	}
	return body.Leader, nil
}

// Mode returns the operating mode t is configured with.
func (c *Client) Mode(ctx context.Context, t Target) (Mode, error) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := c.getJSON(ctx, t, "/api/mode", c.cfg.ProbeTimeout, &body); err != nil {
		return "", err
	}
	return ParseMode(body.Mode)
}

// Status returns member liveness as seen by t.
func (c *Client) Status(ctx context.Context, t Target) (map[string]bool, error) {
	status := make(map[string]bool)
	if err := c.getJSON(ctx, t, "/api/status", c.cfg.StatusTimeout, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Put writes key=value through t. It never fails: transport errors, timeouts
// and non-2xx answers all come back as an unsuccessful Outcome.
func (c *Client) Put(ctx context.Context, t Target, key, value string) Outcome {
	out := Outcome{Target: t, Key: key, Start: time.Now()}

	bodyBytes, err := json.Marshal(map[string]string{"key": key, "value": value})
	if err != nil {
		out.Err = err
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint(t, "/api/put"), bytes.NewReader(bodyBytes))
	if err != nil {
		out.Err = err
		return out
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		out.Err = err
		return out
	}
	latency := time.Since(out.Start)
	out.Status = resp.StatusCode

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		out.Err = fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		out.Latency = latency
	}
	return out
}
