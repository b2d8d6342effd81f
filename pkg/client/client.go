package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/fleet/pkg/api"
	"github.com/cuemby/fleet/pkg/apierr"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
)

// DefaultTimeout bounds every call except backups and restores
const DefaultTimeout = 10 * time.Second

// Client talks to the fleet HTTP API
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for the server at addr. addr is either
// host:port or a full http(s) URL.
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, apierr.BadRequestf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, err, "parse server address")
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// WithTimeout changes the per-call timeout
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// ListUniverses lists all universes
func (c *Client) ListUniverses(ctx context.Context) ([]*types.Universe, error) {
	var out []*types.Universe
	err := c.call(ctx, http.MethodGet, "/v1/universes", nil, &out)
	return out, err
}

// GetUniverse gets a universe by UUID
func (c *Client) GetUniverse(ctx context.Context, id string) (*types.Universe, error) {
	var out types.Universe
	if err := c.call(ctx, http.MethodGet, "/v1/universes/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportUniverse registers an existing universe with the control plane
func (c *Client) ImportUniverse(ctx context.Context, u *types.Universe) (*types.Universe, error) {
	var out types.Universe
	if err := c.call(ctx, http.MethodPost, "/v1/universes", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks lists tasks, newest first. universeID and state are optional filters.
func (c *Client) ListTasks(ctx context.Context, universeID string, state types.TaskState) ([]*types.TaskInfo, error) {
	path := "/v1/tasks"
	if universeID != "" {
		path = "/v1/universes/" + url.PathEscape(universeID) + "/tasks"
	}

	var out []*types.TaskInfo
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if state == "" {
		return out, nil
	}
	filtered := out[:0]
	for _, t := range out {
		if t.State == state {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// GetTask gets a task by UUID
func (c *Client) GetTask(ctx context.Context, id string) (*types.TaskInfo, error) {
	var out types.TaskInfo
	if err := c.call(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit starts a task and returns its UUID
func (c *Client) Submit(ctx context.Context, req *api.SubmitRequest) (string, error) {
	var out api.SubmitResponse
	if err := c.call(ctx, http.MethodPost, "/v1/tasks", req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Plan returns the groups a submission would run, without running them
func (c *Client) Plan(ctx context.Context, req *api.SubmitRequest) ([]*task.SubTaskGroup, error) {
	var out api.PlanResponse
	if err := c.call(ctx, http.MethodPost, "/v1/plans", req, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// Resume retries a failed or interrupted task
func (c *Client) Resume(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/resume", nil, nil)
}

// Abort stops a running task at its next group boundary
func (c *Client) Abort(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/abort", nil, nil)
}

// WaitForTask polls a task until it reaches a terminal state or ctx is done
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*types.TaskInfo, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if info.State.Terminal() {
			return info, nil
		}

		select {
		case <-ctx.Done():
			return info, apierr.Cancelled(ctx.Err(), "waiting for task %s", id)
		case <-ticker.C:
		}
	}
}

// Backup backs up keyspaces of a universe under location. Results are
// returned alongside the error when some keyspaces failed.
func (c *Client) Backup(ctx context.Context, universeID string, req *api.BackupRequest) ([]api.BackupResult, error) {
	return c.backup(ctx, universeID, "backup", req)
}

// Restore restores keyspaces of a universe from location
func (c *Client) Restore(ctx context.Context, universeID string, req *api.BackupRequest) ([]api.BackupResult, error) {
	return c.backup(ctx, universeID, "restore", req)
}

func (c *Client) backup(ctx context.Context, universeID, action string, req *api.BackupRequest) ([]api.BackupResult, error) {
	var out api.BackupResponse
	status, err := c.send(ctx, http.MethodPost, "/v1/universes/"+url.PathEscape(universeID)+"/"+action, req, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		for _, res := range out.Results {
			if res.Error != "" {
				return out.Results, apierr.Internalf("%s of keyspace %s failed: %s", action, res.Keyspace, res.Error)
			}
		}
	}
	return out.Results, nil
}

// call runs a request under the per-call timeout
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.send(ctx, method, path, in, out)
	return err
}

// send performs the request and decodes the response. Error statuses with a
// result body are decoded into out and reported through the status only.
func (c *Client) send(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, apierr.Wrap(apierr.KindBadRequest, err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindBadRequest, err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, apierr.Cancelled(ctx.Err(), "%s %s", method, path)
		}
		return 0, apierr.Wrap(apierr.KindInternal, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, apierr.Wrap(apierr.KindInternal, err, "read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if out != nil && json.Unmarshal(data, out) == nil && hasResults(out) {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, decodeError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, apierr.Wrap(apierr.KindInternal, err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

func hasResults(out interface{}) bool {
	br, ok := out.(*api.BackupResponse)
	return ok && len(br.Results) > 0
}

// decodeError turns an error body back into a classified error
func decodeError(status int, data []byte) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &apierr.Error{
			Kind:    kindForStatus(status),
			Message: fmt.Sprintf("server returned %d: %s", status, strings.TrimSpace(string(data))),
		}
	}
	kind := apierr.Kind(body.Kind)
	if body.Kind == "" || body.Kind == "Forbidden" {
		kind = kindForStatus(status)
	}
	return &apierr.Error{Kind: kind, Message: body.Error}
}

func kindForStatus(status int) apierr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusForbidden:
		return apierr.KindBadRequest
	case http.StatusNotFound:
		return apierr.KindNotFound
	case http.StatusConflict:
		return apierr.KindConflict
	case http.StatusGatewayTimeout:
		return apierr.KindTimeout
	case apierr.StatusClientClosedRequest:
		return apierr.KindCancelled
	}
	return apierr.KindInternal
}
