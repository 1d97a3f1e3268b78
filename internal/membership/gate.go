// Package membership owns conversation and participant records and
// answers the one question the delivery path keeps asking: may this user
// send and receive in this conversation right now.
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

// Repository is the data access surface the gate needs. Postgres backs it
// in production; tests use the in-memory implementation.
type Repository interface {
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	ActiveParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error
	FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error)
	UpsertParticipant(ctx context.Context, p *model.Participant) error
	SetActive(ctx context.Context, conversationID, userID string, active bool) error
	SetLastRead(ctx context.Context, conversationID, userID string, seq int64, at time.Time) error
	ConversationsForUser(ctx context.Context, userID string) ([]string, error)
	SoftDelete(ctx context.Context, conversationID string, at time.Time) error
	ListConversationIDs(ctx context.Context, onlyActive bool) ([]string, error)
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	HardDelete(ctx context.Context, ids []string) error
}

// Gate is the authorization surface consumed by the dispatcher.
type Gate interface {
	AssertCanParticipate(ctx context.Context, conversationID, userID string) error
	ActiveParticipants(ctx context.Context, conversationID string) ([]string, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AssertCanParticipate fails with ErrConversationNotFound for absent or
// tombstoned conversations and ErrAccessDenied unless an active
// membership row exists.
func (s *Service) AssertCanParticipate(ctx context.Context, conversationID, userID string) error {
	conv, err := s.repo.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted() {
		return apperr.ErrConversationNotFound
	}
	p, err := s.repo.Participant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if p == nil || !p.Active {
		return apperr.ErrAccessDenied
	}
	return nil
}

// ActiveParticipants returns the user ids of all active members. The
// caller excludes the sender when computing fan-out recipients.
func (s *Service) ActiveParticipants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.repo.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Deleted() {
		return nil, apperr.ErrConversationNotFound
	}
	rows, err := s.repo.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.UserID)
	}
	return out, nil
}

// CreateDirect returns the existing non-deleted direct conversation for
// the pair when one exists; direct conversations are unique per unordered
// user pair.
func (s *Service) CreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, apperr.Invalid("user_id", "required")
	}
	if userA == userB {
		return nil, apperr.Invalid("user_id", "direct conversation needs two distinct users")
	}
	if existing, err := s.repo.FindDirect(ctx, userA, userB); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Type:      model.ConversationDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parts := []model.Participant{
		{ConversationID: conv.ID, UserID: userA, Role: model.RoleMember, Active: true, JoinedAt: now},
		{ConversationID: conv.ID, UserID: userB, Role: model.RoleMember, Active: true, JoinedAt: now},
	}
	if err := s.repo.CreateConversation(ctx, conv, parts); err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateGroup creates a group conversation with the creator as owner.
func (s *Service) CreateGroup(ctx context.Context, creator string, members []string) (*model.Conversation, error) {
	if creator == "" {
		return nil, apperr.Invalid("creator", "required")
	}
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		Type:      model.ConversationGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parts := []model.Participant{
		{ConversationID: conv.ID, UserID: creator, Role: model.RoleOwner, Active: true, JoinedAt: now},
	}
	for _, m := range members {
		if m == creator || m == "" {
			continue
		}
		parts = append(parts, model.Participant{
			ConversationID: conv.ID, UserID: m, Role: model.RoleMember, Active: true, JoinedAt: now,
		})
	}
	if len(parts) < 2 {
		return nil, apperr.Invalid("members", "group conversation needs at least two participants")
	}
	if err := s.repo.CreateConversation(ctx, conv, parts); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddParticipant admits a user to a group conversation. Direct
// conversations are a fixed two-party set and reject membership changes.
// A returning user's existing row is reactivated, never duplicated.
func (s *Service) AddParticipant(ctx context.Context, conversationID, requesterID, userID string) error {
	conv, err := s.repo.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted() {
		return apperr.ErrConversationNotFound
	}
	if conv.Type == model.ConversationDirect {
		return apperr.ErrNotPermitted
	}
	if err := s.AssertCanParticipate(ctx, conversationID, requesterID); err != nil {
		return err
	}

	existing, err := s.repo.Participant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Active {
			return nil
		}
		return s.repo.SetActive(ctx, conversationID, userID, true)
	}
	return s.repo.UpsertParticipant(ctx, &model.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           model.RoleMember,
		Active:         true,
		JoinedAt:       time.Now().UTC(),
	})
}

// RemoveParticipant deactivates a membership row. Any active participant
// may remove themselves; removing someone else needs owner or admin role.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, requesterID, userID string) error {
	conv, err := s.repo.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted() {
		return apperr.ErrConversationNotFound
	}
	if conv.Type == model.ConversationDirect {
		return apperr.ErrNotPermitted
	}

	requester, err := s.repo.Participant(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}
	if requester == nil || !requester.Active {
		return apperr.ErrAccessDenied
	}
	if requesterID != userID && !requester.Role.CanRemoveOthers() {
		return apperr.ErrAccessDenied
	}

	target, err := s.repo.Participant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if target == nil || !target.Active {
		return nil
	}
	return s.repo.SetActive(ctx, conversationID, userID, false)
}

// AdvanceLastRead moves a participant's read frontier forward. Older
// frontiers are ignored.
func (s *Service) AdvanceLastRead(ctx context.Context, conversationID, userID string, seq int64, at time.Time) error {
	return s.repo.SetLastRead(ctx, conversationID, userID, seq, at)
}

// LastReadSeq returns a participant's stored read frontier, 0 when no
// row exists. Unread counts start from this frontier.
func (s *Service) LastReadSeq(ctx context.Context, conversationID, userID string) (int64, error) {
	p, err := s.repo.Participant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	return p.LastReadSeq, nil
}

func (s *Service) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.repo.ConversationsForUser(ctx, userID)
}

// SoftDelete tombstones a conversation; it disappears from active
// listings but stays queryable for audit until the retention sweep purges
// it.
func (s *Service) SoftDelete(ctx context.Context, conversationID string) error {
	conv, err := s.repo.Conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted() {
		return nil
	}
	return s.repo.SoftDelete(ctx, conversationID, time.Now().UTC())
}

// Retention surface, consumed by the external sweep job.

func (s *Service) ListConversationIDs(ctx context.Context, onlyActive bool) ([]string, error) {
	return s.repo.ListConversationIDs(ctx, onlyActive)
}

func (s *Service) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.repo.ListDeletedBefore(ctx, cutoff)
}

func (s *Service) HardDelete(ctx context.Context, ids []string) error {
	return s.repo.HardDelete(ctx, ids)
}
