package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBroken is returned by Call once an earlier call was interrupted
// mid-exchange and the stream can no longer be trusted.
var ErrBroken = errors.New("rpc connection broken")

// RemoteError is an error returned by the remote handler. The connection
// stays usable.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc error: %s: %s", e.Method, e.Message)
}

// Client is a lightweight JSON-over-TCP RPC client.
type Client struct {
	addr    string
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	nextID  atomic.Int64
	broken  atomic.Bool
}

type wireResponse struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Dial connects to an RPC server at the given address.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		addr:    addr,
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Call invokes the named RPC method with params and decodes the response
// into result. The exchange is abandoned when ctx ends; the connection is
// then marked broken. Call is safe for concurrent use.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if c.broken.Load() {
		return ErrBroken
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID.Add(1)

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	req := Request{
		Method: method,
		ID:     strconv.FormatInt(id, 10),
		Params: raw,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMs = time.Until(deadline).Milliseconds()
		if req.TimeoutMs <= 0 {
			return fmt.Errorf("calling %s: %w", method, context.DeadlineExceeded)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		return c.fail(ctx, "sending request", err)
	}

	var resp wireResponse
	if err := c.decoder.Decode(&resp); err != nil {
		return c.fail(ctx, "reading response", err)
	}
	if resp.ID != req.ID {
		c.broken.Store(true)
		return fmt.Errorf("response id %q does not match request %q: %w", resp.ID, req.ID, ErrBroken)
	}

	if resp.Error != "" {
		return &RemoteError{Method: method, Message: resp.Error}
	}

	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}

	return nil
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	c.broken.Store(true)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Broken reports whether the client must be redialed.
func (c *Client) Broken() bool {
	return c.broken.Load()
}

func (c *Client) Addr() string {
	return c.addr
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	c.broken.Store(true)
	return c.conn.Close()
}
