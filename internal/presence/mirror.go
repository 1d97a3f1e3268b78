package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror reflects local connection state into Redis so other instances
// (and the notification tier) can see who is reachable. The in-memory
// Registry stays authoritative for this instance; mirror failures are
// reported to the caller but never block registration.
type Mirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type connMeta struct {
	ConnID      string `json:"conn_id"`
	ConnectedAt int64  `json:"connected_at"`
}

type presenceDoc struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewMirror(client *redis.Client, prefix string, ttl time.Duration) *Mirror {
	return &Mirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *Mirror) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", m.prefix, userID)
}

func (m *Mirror) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

// AddConnection records a connection and refreshes the user's online marker.
func (m *Mirror) AddConnection(ctx context.Context, userID, connID string) error {
	meta, _ := json.Marshal(connMeta{ConnID: connID, ConnectedAt: time.Now().Unix()})
	if err := m.client.HSet(ctx, m.connKey(userID), connID, meta).Err(); err != nil {
		return err
	}
	_ = m.client.Expire(ctx, m.connKey(userID), m.ttl).Err()
	return m.setPresence(ctx, userID, "online")
}

// RemoveConnection drops a connection; when it was the last one the user
// is marked offline.
func (m *Mirror) RemoveConnection(ctx context.Context, userID, connID string) error {
	key := m.connKey(userID)
	if err := m.client.HDel(ctx, key, connID).Err(); err != nil {
		return err
	}
	n, err := m.client.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return m.setPresence(ctx, userID, "offline")
	}
	return nil
}

func (m *Mirror) setPresence(ctx context.Context, userID, status string) error {
	doc, _ := json.Marshal(presenceDoc{Status: status, LastSeen: time.Now().Unix()})
	return m.client.Set(ctx, m.presenceKey(userID), doc, m.ttl).Err()
}

// Status returns the mirrored presence for a user, "offline" when no
// marker exists.
func (m *Mirror) Status(ctx context.Context, userID string) (string, error) {
	b, err := m.client.Get(ctx, m.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return "offline", nil
	}
	if err != nil {
		return "", err
	}
	var doc presenceDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	return doc.Status, nil
}
