package membership

import (
	"context"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

// MemoryRepository keeps conversations and participants in process
// memory. It backs tests and local development without a database.
type MemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	participants  map[string]map[string]*model.Participant // convID -> userID -> row
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[string]*model.Conversation),
		participants:  make(map[string]map[string]*model.Participant),
	}
}

func (r *MemoryRepository) Conversation(_ context.Context, id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, apperr.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) Participant(_ context.Context, conversationID, userID string) (*model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[conversationID][userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) ActiveParticipants(_ context.Context, conversationID string) ([]model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Participant
	for _, p := range r.participants[conversationID] {
		if p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateConversation(_ context.Context, conv *model.Conversation, participants []model.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conv
	r.conversations[conv.ID] = &cp
	rows := make(map[string]*model.Participant, len(participants))
	for i := range participants {
		p := participants[i]
		rows[p.UserID] = &p
	}
	r.participants[conv.ID] = rows
	return nil
}

func (r *MemoryRepository) FindDirect(_ context.Context, userA, userB string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.conversations {
		if c.Type != model.ConversationDirect || c.Deleted() {
			continue
		}
		rows := r.participants[id]
		if _, okA := rows[userA]; okA {
			if _, okB := rows[userB]; okB {
				cp := *c
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (r *MemoryRepository) UpsertParticipant(_ context.Context, p *model.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.participants[p.ConversationID]
	if !ok {
		rows = make(map[string]*model.Participant)
		r.participants[p.ConversationID] = rows
	}
	if existing, ok := rows[p.UserID]; ok {
		existing.Active = p.Active
		return nil
	}
	cp := *p
	rows[p.UserID] = &cp
	return nil
}

func (r *MemoryRepository) SetActive(_ context.Context, conversationID, userID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[conversationID][userID]; ok {
		p.Active = active
	}
	return nil
}

func (r *MemoryRepository) SetLastRead(_ context.Context, conversationID, userID string, seq int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[conversationID][userID]; ok && p.LastReadSeq < seq {
		p.LastReadSeq = seq
		p.LastReadAt = at
	}
	return nil
}

func (r *MemoryRepository) ConversationsForUser(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, c := range r.conversations {
		if c.Deleted() {
			continue
		}
		if p, ok := r.participants[id][userID]; ok && p.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, conversationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[conversationID]; ok && !c.Deleted() {
		t := at
		c.DeletedAt = &t
		c.UpdatedAt = at
	}
	return nil
}

func (r *MemoryRepository) ListConversationIDs(_ context.Context, onlyActive bool) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, c := range r.conversations {
		if onlyActive && c.Deleted() {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *MemoryRepository) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, c := range r.conversations {
		if c.DeletedAt != nil && c.DeletedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MemoryRepository) HardDelete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.conversations, id)
		delete(r.participants, id)
	}
	return nil
}
