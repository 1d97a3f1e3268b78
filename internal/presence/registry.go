// Package presence tracks which users currently hold live realtime
// connections. It is purely in-memory; connections do not survive a
// process restart, reconnecting clients resync through the message
// history endpoints.
package presence

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender is the outbound half of a realtime connection. Send must be safe
// to call after the peer disconnected; a closed connection returns an
// error instead of blocking or panicking.
type Sender interface {
	Send(data []byte) error
}

// Connection binds a connection id to its owning user and transport.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time
	sender      Sender
}

// Send pushes a payload down this connection.
func (c *Connection) Send(data []byte) error { return c.sender.Send(data) }

const shardCount = 32

type shard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Connection // userID -> connID -> conn
}

// Registry is a sharded user -> connections map. Contention is scoped to a
// single shard; fan-out reads take an atomic per-user snapshot.
type Registry struct {
	shards [shardCount]*shard

	mu    sync.RWMutex
	conns map[string]*Connection // connID -> conn, for unregister by id
}

func NewRegistry() *Registry {
	r := &Registry{conns: make(map[string]*Connection)}
	for i := range r.shards {
		r.shards[i] = &shard{byUser: make(map[string]map[string]*Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection for userID and returns it together with
// cameOnline, true when this is the user's first live connection (the
// "user came online" transition).
func (r *Registry) Register(userID string, s Sender) (*Connection, bool) {
	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		sender:      s,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	sh := r.shardFor(userID)
	sh.mu.Lock()
	set, ok := sh.byUser[userID]
	if !ok {
		set = make(map[string]*Connection)
		sh.byUser[userID] = set
	}
	cameOnline := len(set) == 0
	set[conn.ID] = conn
	sh.mu.Unlock()

	return conn, cameOnline
}

// Unregister removes a connection by id. Idempotent: unknown ids are a
// no-op. Returns the owning user id and wentOffline, true when the user's
// last connection was removed.
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	sh := r.shardFor(conn.UserID)
	sh.mu.Lock()
	wentOffline := false
	if set, ok := sh.byUser[conn.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(sh.byUser, conn.UserID)
			wentOffline = true
		}
	}
	sh.mu.Unlock()

	return conn.UserID, wentOffline
}

// ConnectionsFor returns a snapshot of the user's live connections. An
// empty slice means offline.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set, ok := sh.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.byUser[userID]) > 0
}

// Count returns the number of live connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
