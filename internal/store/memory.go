package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

// MemoryStore implements Store in process memory with the same ordering
// and idempotency semantics as the Mongo store. Used by tests and for
// local development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*model.Message
	byConv   map[string][]*model.Message // ascending seq
	counters map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*model.Message),
		byConv:   make(map[string][]*model.Message),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Append(_ context.Context, conversationID, senderID, content string, typ model.MessageType) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[conversationID]++
	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		Seq:            s.counters[conversationID],
		CreatedAt:      time.Now().UTC(),
		Status:         model.StatusSent,
		DeliveredTo:    map[string]time.Time{},
		ReadBy:         map[string]time.Time{},
	}
	s.byID[m.ID] = m
	s.byConv[conversationID] = append(s.byConv[conversationID], m)
	return clone(m), nil
}

func (s *MemoryStore) ListSince(_ context.Context, conversationID string, afterSeq int64) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byConv[conversationID]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq > afterSeq })
	out := make([]*model.Message, 0, len(msgs)-i)
	for ; i < len(msgs); i++ {
		out = append(out, clone(msgs[i]))
	}
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, beforeSeq, limit int64) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byConv[conversationID]
	end := len(msgs)
	if beforeSeq > 0 {
		end = sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq >= beforeSeq })
	}
	start := end - int(limit)
	if limit <= 0 || start < 0 {
		start = 0
	}
	out := make([]*model.Message, 0, end-start)
	for ; start < end; start++ {
		out = append(out, clone(msgs[start]))
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[messageID]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	return clone(m), nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error) {
	return s.record(messageID, recipientID, at, func(m *model.Message) map[string]time.Time { return m.DeliveredTo })
}

func (s *MemoryStore) RecordRead(_ context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error) {
	return s.record(messageID, recipientID, at, func(m *model.Message) map[string]time.Time { return m.ReadBy })
}

func (s *MemoryStore) record(messageID, recipientID string, at time.Time, marks func(*model.Message) map[string]time.Time) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return nil, false, apperr.ErrMessageNotFound
	}
	mm := marks(m)
	if prev, ok := mm[recipientID]; ok && !prev.Before(at) {
		return clone(m), false, nil
	}
	mm[recipientID] = at
	return clone(m), true, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, messageID string, st model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return apperr.ErrMessageNotFound
	}
	if st.Rank() > m.Status.Rank() {
		m.Status = st
	}
	return nil
}

func (s *MemoryStore) UnreadSince(_ context.Context, conversationID, userID string, afterSeq int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.byConv[conversationID] {
		if m.Seq <= afterSeq || m.SenderID == userID {
			continue
		}
		if _, ok := m.ReadBy[userID]; ok {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) MaxSeq(_ context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[conversationID], nil
}

func (s *MemoryStore) ListUnreadBy(_ context.Context, conversationID, userID string, upToSeq int64) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Message
	for _, m := range s.byConv[conversationID] {
		if m.Seq > upToSeq || m.SenderID == userID {
			continue
		}
		if _, ok := m.ReadBy[userID]; ok {
			continue
		}
		out = append(out, clone(m))
	}
	return out, nil
}

func (s *MemoryStore) PurgeConversations(_ context.Context, conversationIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range conversationIDs {
		for _, m := range s.byConv[id] {
			delete(s.byID, m.ID)
		}
		delete(s.byConv, id)
		delete(s.counters, id)
	}
	return nil
}

func clone(m *model.Message) *model.Message {
	cp := *m
	cp.DeliveredTo = make(map[string]time.Time, len(m.DeliveredTo))
	for k, v := range m.DeliveredTo {
		cp.DeliveredTo[k] = v
	}
	cp.ReadBy = make(map[string]time.Time, len(m.ReadBy))
	for k, v := range m.ReadBy {
		cp.ReadBy[k] = v
	}
	return &cp
}
