package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

var (
	ErrNoLeaderElected = errors.New("no leader elected")
	ErrInvalidSpeed    = errors.New("invalid speed")
)

// APIError is a non-2xx reply from the simulator.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simulator returned %d: %s: %s", e.Status, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case types.ErrCodeNoLeader:
		return ErrNoLeaderElected
	case types.ErrCodeInvalidSpeed:
		return ErrInvalidSpeed
	default:
		return nil
	}
}

// Client talks to a simulator's HTTP control surface.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (c *Client) Snapshot(ctx context.Context) (types.ClusterSnapshot, error) {
	var snap types.ClusterSnapshot
	err := c.do(ctx, http.MethodGet, "/snapshot", nil, &snap)
	return snap, err
}

func (c *Client) Events(ctx context.Context, since uint64) ([]types.Event, error) {
	var resp struct {
		Events []types.Event `json:"events"`
	}
	path := "/events?since=" + strconv.FormatUint(since, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/resume", nil, nil)
}

func (c *Client) Step(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/step", nil, nil)
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reset", nil, nil)
}

func (c *Client) SetSpeed(ctx context.Context, multiplier float64) error {
	body := map[string]float64{"multiplier": multiplier}
	return c.do(ctx, http.MethodPut, "/speed", body, nil)
}

// KillNode reports whether the id was known to the simulator.
func (c *Client) KillNode(ctx context.Context, id types.NodeID) (bool, error) {
	return c.nodeCommand(ctx, id, "kill")
}

// ReviveNode reports whether the id was known to the simulator.
func (c *Client) ReviveNode(ctx context.Context, id types.NodeID) (bool, error) {
	return c.nodeCommand(ctx, id, "revive")
}

func (c *Client) nodeCommand(ctx context.Context, id types.NodeID, action string) (bool, error) {
	var res types.CommandResult
	path := fmt.Sprintf("/nodes/%d/%s", id, action)
	if err := c.do(ctx, http.MethodPost, path, nil, &res); err != nil {
		return false, err
	}
	return res.Applied, nil
}

// InjectClientRequest returns the current leader, or ErrNoLeaderElected.
func (c *Client) InjectClientRequest(ctx context.Context) (types.NodeID, error) {
	var res types.ClientRequestResult
	if err := c.do(ctx, http.MethodPost, "/client-request", nil, &res); err != nil {
		return types.NoNode, err
	}
	return res.LeaderID, nil
}

// Watch streams snapshots to fn until ctx is done, fn returns an error, or
// the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(types.ClusterSnapshot) error) error {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var snap types.ClusterSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResult
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return &APIError{Status: resp.StatusCode, Code: types.ErrCodeInternal, Msg: "unreadable error body"}
		}
		return &APIError{Status: resp.StatusCode, Code: e.ErrCode, Msg: e.ErrMsg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
