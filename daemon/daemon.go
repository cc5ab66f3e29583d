package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickcollette/kayveechat-server/core"
	"github.com/rickcollette/kayveechat-server/handler"
	"github.com/rickcollette/kayveechat-server/protocol"
)

const (
	DefaultMaxLineBytes  = 1 << 20
	DefaultWriteTimeout  = 10 * time.Second
	DefaultSweepInterval = 5 * time.Minute

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Dispatcher runs one decoded command for a connection.
type Dispatcher interface {
	Handle(ctx context.Context, peer handler.Peer, cmd protocol.Command) (protocol.Response, error)
}

// Observer is told about connection and session lifecycle events.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	SessionsSwept(n int)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()   {}
func (nopObserver) ConnectionClosed()   {}
func (nopObserver) SessionsSwept(n int) {}

// Options configures a Server. Zero values pick the defaults above; a zero
// IdleTimeout disables idle disconnects and a negative SweepInterval
// disables the session sweeper.
type Options struct {
	Addr          string
	MaxLineBytes  int
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	return o
}

// Server accepts client connections and runs one worker per connection.
// It moves between stopped and running; Start and Stop may be repeated.
type Server struct {
	opts       Options
	dispatcher Dispatcher
	sessions   *core.SessionDirectory
	subs       *core.Registry
	log        zerolog.Logger
	observer   Observer

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu         sync.Mutex
	running    bool
	listener   net.Listener
	cancel     context.CancelFunc
	acceptDone chan struct{}
	sweepDone  chan struct{}
	conns      map[uint64]*conn

	workers sync.WaitGroup
	nextID  atomic.Uint64
}

// New builds a stopped Server. observer may be nil.
func New(opts Options, dispatcher Dispatcher, sessions *core.SessionDirectory, subs *core.Registry, log zerolog.Logger, observer Observer) *Server {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Server{
		opts:       opts.withDefaults(),
		dispatcher: dispatcher,
		sessions:   sessions,
		subs:       subs,
		log:        log.With().Str("component", "daemon").Logger(),
		observer:   observer,
		conns:      make(map[uint64]*conn),
	}
}

// Start binds the listen address and begins accepting connections. It is a
// no-op when the server is already running.
func (s *Server) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("error starting server on %s: %w", s.opts.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancel = cancel
	s.running = true

	s.acceptDone = make(chan struct{})
	go s.acceptLoop(ctx, ln, s.acceptDone)

	s.sweepDone = nil
	if s.opts.SweepInterval > 0 {
		s.sweepDone = make(chan struct{})
		go s.sweepLoop(ctx, s.sweepDone)
	}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("daemon listening")
	return nil
}

// Stop closes the listener, closes every live connection and waits for all
// workers to exit. It is a no-op when the server is not running.
func (s *Server) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln, cancel, acceptDone, sweepDone := s.listener, s.cancel, s.acceptDone, s.sweepDone
	s.listener = nil
	s.mu.Unlock()

	cancel()
	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	<-acceptDone
	if sweepDone != nil {
		<-sweepDone
	}

	s.mu.Lock()
	open := len(s.conns)
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.workers.Wait()
	s.log.Info().Int("closed_connections", open).Msg("daemon stopped")
	if err != nil {
		return fmt.Errorf("error closing listener: %w", err)
	}
	return nil
}

// Addr returns the bound address, or nil when the server is stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, done chan struct{}) {
	defer close(done)

	backoff := time.Duration(0)
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("error accepting connection")
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = 0

		c := newConn(s.nextID.Add(1), raw, s.opts.WriteTimeout)
		s.mu.Lock()
		s.conns[c.id] = c
		s.workers.Add(1)
		s.mu.Unlock()

		go s.serve(ctx, c)
	}
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.observer.SessionsSwept(n)
				s.log.Debug().Int("removed", n).Msg("expired sessions swept")
			}
		}
	}
}
