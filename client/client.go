package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rickcollette/kayveechat-server/protocol"
)

// ErrClosed is returned by Do once the connection has gone away.
var ErrClosed = errors.New("client: connection closed")

const eventBuffer = 128

// Client speaks the line protocol over one TCP connection. Requests are
// serialized; [EVENT] lines are routed to Events and everything else is
// the answer to the pending request.
type Client struct {
	conn net.Conn

	// reqMu allows a single request in flight.
	reqMu     sync.Mutex
	responses chan protocol.Response
	events    chan protocol.Response

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{
		conn:      conn,
		responses: make(chan protocol.Response, 1),
		events:    make(chan protocol.Response, eventBuffer),
		done:      make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Events delivers pushed events. Events arriving while the buffer is full
// are dropped. The channel is closed when the connection ends.
func (c *Client) Events() <-chan protocol.Response {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Do sends a command and waits for its response.
func (c *Client) Do(ctx context.Context, name string, params map[string]string) (protocol.Response, error) {
	return c.DoLine(ctx, protocol.EncodeCommand(protocol.Command{Name: name, Params: params}))
}

// DoLine sends a raw request line and waits for its response.
func (c *Client) DoLine(ctx context.Context, line string) (protocol.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return protocol.Response{}, ErrClosed
	default:
	}

	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return protocol.Response{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-c.done:
		return protocol.Response{}, ErrClosed
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// Register creates an account and returns the new session token and user id.
func (c *Client) Register(ctx context.Context, username, password string) (string, int64, error) {
	return c.authenticate(ctx, protocol.CmdRegister, username, password)
}

// Login opens a session for an existing account.
func (c *Client) Login(ctx context.Context, username, password string) (string, int64, error) {
	return c.authenticate(ctx, protocol.CmdLogin, username, password)
}

func (c *Client) authenticate(ctx context.Context, cmd, username, password string) (string, int64, error) {
	resp, err := c.Do(ctx, cmd, map[string]string{"username": username, "password": password})
	if err != nil {
		return "", 0, err
	}
	if resp.Status != protocol.StatusOK {
		return "", 0, fmt.Errorf("%s failed: %s", strings.ToLower(cmd), resp.Payload)
	}
	_, fields := ParseFields(resp.Payload)
	userID, err := strconv.ParseInt(fields["userId"], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse user id: %w", err)
	}
	return fields["sessionId"], userID, nil
}

// Close shuts the connection and waits for the reader to stop.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Err reports why the connection ended, or nil for a clean close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) readPump() {
	defer c.closeOnce.Do(func() {
		close(c.events)
		close(c.done)
	})

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		resp := protocol.ParseResponse(scanner.Text())
		if resp.Status == protocol.StatusEvent {
			select {
			case c.events <- resp:
			default:
			}
			continue
		}
		select {
		case c.responses <- resp:
		default:
			// Unsolicited response with one already queued; drop it.
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.readErr = err
	}
}

// ParseFields splits "tag:k1=v1:k2=v2" into the tag and its fields. Values
// keep any '=' after the first.
func ParseFields(payload string) (string, map[string]string) {
	parts := strings.Split(payload, ":")
	fields := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok {
			fields[k] = v
		}
	}
	return parts[0], fields
}

// ParseRecords splits "tag:|a:b|c:d" into the tag and its records.
func ParseRecords(payload string) (string, [][]string) {
	tag, rest, _ := strings.Cut(payload, ":")
	var rows [][]string
	for _, rec := range strings.Split(rest, "|") {
		if rec == "" {
			continue
		}
		rows = append(rows, strings.Split(rec, ":"))
	}
	return tag, rows
}
