package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickcollette/kayveechat-server/apperr"
	"github.com/rickcollette/kayveechat-server/protocol"
)

// conn is one client connection. Responses from its own worker and events
// pushed by other workers share the write mutex.
type conn struct {
	id           uint64
	raw          net.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(id uint64, raw net.Conn, writeTimeout time.Duration) *conn {
	return &conn{id: id, raw: raw, writeTimeout: writeTimeout}
}

func (c *conn) ID() uint64 { return c.id }

// WriteLine writes line plus a newline. A failed write closes the
// connection so its worker stops reading.
func (c *conn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return apperr.Connection("write", net.ErrClosed)
	}
	if c.writeTimeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := io.WriteString(c.raw, line+"\n"); err != nil {
		c.Close()
		return apperr.Connection("write", err)
	}
	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.raw.Close()
	})
	return err
}

// serve is the per-connection worker: read a line, dispatch it, write the
// response, until the peer leaves, sends an empty line, or the connection
// fails.
func (s *Server) serve(ctx context.Context, c *conn) {
	defer s.workers.Done()

	log := s.log.With().Uint64("conn_id", c.id).Str("remote", c.raw.RemoteAddr().String()).Logger()
	log.Info().Msg("connection opened")
	s.observer.ConnectionOpened()

	defer func() {
		// Unregister first so no event is written to a closing socket.
		s.subs.Unregister(c.id)
		c.Close()
		s.untrack(c.id)
		s.observer.ConnectionClosed()
		log.Info().Msg("connection closed")
	}()

	scanner := bufio.NewScanner(c.raw)
	scanner.Buffer(make([]byte, 0, 4096), s.opts.MaxLineBytes)

	for {
		if s.opts.IdleTimeout > 0 {
			c.raw.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !c.closed.Load() {
				var ne net.Error
				switch {
				case errors.As(err, &ne) && ne.Timeout():
					log.Info().Msg("idle timeout")
				case errors.Is(err, bufio.ErrTooLong):
					log.Warn().Int("max_line_bytes", s.opts.MaxLineBytes).Msg("request line too long")
				default:
					log.Debug().Err(err).Msg("read failed")
				}
			}
			return
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			return
		}

		cmd := protocol.Decode(line)
		log.Debug().Str("command", cmd.Name).Msg("command received")

		resp, err := s.dispatch(ctx, c, cmd)
		if err != nil {
			log.Warn().Err(err).Msg("dropping connection")
			return
		}
		if err := c.WriteLine(resp.Encode()); err != nil {
			log.Debug().Err(err).Msg("response write failed")
			return
		}
	}
}

// dispatch runs the command and turns a panic into a connection error.
func (s *Server) dispatch(ctx context.Context, c *conn, cmd protocol.Command) (resp protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Uint64("conn_id", c.id).
				Str("command", cmd.Name).
				Str("stack", string(debug.Stack())).
				Msgf("panic in command handler: %v", r)
			err = apperr.Connection("dispatch", fmt.Errorf("panic: %v", r))
		}
	}()
	return s.dispatcher.Handle(ctx, c, cmd)
}
