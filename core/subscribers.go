package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber is a live connection that can receive pushed lines.
type Subscriber interface {
	ID() uint64
	WriteLine(line string) error
}

// RegistryObserver receives fan-out counters. The metrics package implements it.
type RegistryObserver interface {
	EventDelivered()
	SubscriberEvicted()
}

type subscription struct {
	userID int64
	sub    Subscriber
}

// Registry maps live connections to users and back. Both views change only
// under mu, so they always agree; a user with no connections has no entry.
type Registry struct {
	mu       sync.Mutex
	byConn   map[uint64]subscription
	byUser   map[int64]map[uint64]Subscriber
	log      zerolog.Logger
	observer RegistryObserver
}

// NewRegistry returns an empty registry. observer may be nil.
func NewRegistry(log zerolog.Logger, observer RegistryObserver) *Registry {
	return &Registry{
		byConn:   make(map[uint64]subscription),
		byUser:   make(map[int64]map[uint64]Subscriber),
		log:      log.With().Str("component", "registry").Logger(),
		observer: observer,
	}
}

// Register subscribes the connection to userID, replacing whatever the
// connection was subscribed to before.
func (r *Registry) Register(sub Subscriber, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := sub.ID()
	r.removeLocked(id)

	r.byConn[id] = subscription{userID: userID, sub: sub}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[uint64]Subscriber)
		r.byUser[userID] = conns
	}
	conns[id] = sub
}

// Unregister removes the connection from both views. Unknown ids are ignored.
func (r *Registry) Unregister(connID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID)
}

func (r *Registry) removeLocked(connID uint64) {
	s, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)

	conns := r.byUser[s.userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, s.userID)
	}
}

// Notify writes payload to every connection subscribed to any of the target
// users. Each user is visited once even if listed twice. Connections whose
// write fails are removed after the pass and not retried. Returns the number
// of successful deliveries.
func (r *Registry) Notify(userIDs []int64, payload string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed []uint64
	delivered := 0
	seen := make(map[int64]struct{}, len(userIDs))

	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		for id, sub := range r.byUser[userID] {
			if err := sub.WriteLine(payload); err != nil {
				r.log.Warn().Err(err).Uint64("conn_id", id).Int64("user_id", userID).Msg("event delivery failed, evicting subscriber")
				failed = append(failed, id)
				continue
			}
			delivered++
			if r.observer != nil {
				r.observer.EventDelivered()
			}
		}
	}

	for _, id := range failed {
		r.removeLocked(id)
		if r.observer != nil {
			r.observer.SubscriberEvicted()
		}
	}
	return delivered
}

// UserOf returns the user a connection is subscribed to.
func (r *Registry) UserOf(connID uint64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	return s.userID, ok
}

// Connections returns how many live connections the user has.
func (r *Registry) Connections(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID])
}

// Users returns how many users have at least one live connection.
func (r *Registry) Users() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Len returns the number of subscribed connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
