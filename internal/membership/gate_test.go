package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository())
}

func TestDirectConversationUniqueness(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreateDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("direct pair produced two conversations: %s vs %s", first.ID, second.ID)
	}

	// a tombstoned direct conversation no longer blocks a new one
	if err := svc.SoftDelete(ctx, first.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	third, err := svc.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create after delete: %v", err)
	}
	if third.ID == first.ID {
		t.Error("deleted conversation was reused")
	}
}

func TestCreateDirectValidation(t *testing.T) {
	svc := newTestService()
	if _, err := svc.CreateDirect(context.Background(), "alice", "alice"); !apperr.IsValidation(err) {
		t.Errorf("self-direct should be a validation error, got %v", err)
	}
}

func TestAssertCanParticipate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")

	if err := svc.AssertCanParticipate(ctx, conv.ID, "alice"); err != nil {
		t.Errorf("member rejected: %v", err)
	}
	if err := svc.AssertCanParticipate(ctx, conv.ID, "mallory"); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("outsider: got %v, want ErrAccessDenied", err)
	}
	if err := svc.AssertCanParticipate(ctx, "missing", "alice"); !errors.Is(err, apperr.ErrConversationNotFound) {
		t.Errorf("missing conversation: got %v, want ErrConversationNotFound", err)
	}

	if err := svc.SoftDelete(ctx, conv.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := svc.AssertCanParticipate(ctx, conv.ID, "alice"); !errors.Is(err, apperr.ErrConversationNotFound) {
		t.Errorf("tombstoned conversation: got %v, want ErrConversationNotFound", err)
	}
}

func TestDirectConversationRejectsMembershipChanges(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")

	if err := svc.AddParticipant(ctx, conv.ID, "alice", "carol"); !errors.Is(err, apperr.ErrNotPermitted) {
		t.Errorf("add to direct: got %v, want ErrNotPermitted", err)
	}
	// even self-removal is rejected on a fixed two-party conversation
	if err := svc.RemoveParticipant(ctx, conv.ID, "alice", "alice"); !errors.Is(err, apperr.ErrNotPermitted) {
		t.Errorf("remove from direct: got %v, want ErrNotPermitted", err)
	}
	if err := svc.RemoveParticipant(ctx, conv.ID, "bob", "alice"); !errors.Is(err, apperr.ErrNotPermitted) {
		t.Errorf("remove other from direct: got %v, want ErrNotPermitted", err)
	}
}

func TestGroupRoleEnforcement(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	conv, err := svc.CreateGroup(ctx, "owner", []string{"member1", "member2"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	// plain member cannot remove another member
	if err := svc.RemoveParticipant(ctx, conv.ID, "member1", "member2"); !errors.Is(err, apperr.ErrAccessDenied) {
		t.Errorf("member removing member: got %v, want ErrAccessDenied", err)
	}
	// anyone active may remove themselves
	if err := svc.RemoveParticipant(ctx, conv.ID, "member1", "member1"); err != nil {
		t.Errorf("self removal: %v", err)
	}
	// owner may remove others
	if err := svc.RemoveParticipant(ctx, conv.ID, "owner", "member2"); err != nil {
		t.Errorf("owner removal: %v", err)
	}

	active, _ := svc.ActiveParticipants(ctx, conv.ID)
	if len(active) != 1 || active[0] != "owner" {
		t.Errorf("expected only owner active, got %v", active)
	}
}

func TestLeaveKeepsRowAndRejoinReactivates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	conv, _ := svc.CreateGroup(ctx, "owner", []string{"member1"})

	if err := svc.RemoveParticipant(ctx, conv.ID, "member1", "member1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	repo := svc.repo.(*MemoryRepository)
	p, _ := repo.Participant(ctx, conv.ID, "member1")
	if p == nil {
		t.Fatal("membership row was deleted on leave")
	}
	if p.Active {
		t.Error("row should be inactive after leave")
	}

	if err := svc.AddParticipant(ctx, conv.ID, "owner", "member1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	p, _ = repo.Participant(ctx, conv.ID, "member1")
	if p == nil || !p.Active {
		t.Error("rejoin should reactivate the existing row")
	}
}

func TestRetentionSurface(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	keep, _ := svc.CreateDirect(ctx, "alice", "bob")
	gone, _ := svc.CreateDirect(ctx, "alice", "carol")
	if err := svc.SoftDelete(ctx, gone.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	active, _ := svc.ListConversationIDs(ctx, true)
	if len(active) != 1 || active[0] != keep.ID {
		t.Errorf("active listing = %v", active)
	}
	all, _ := svc.ListConversationIDs(ctx, false)
	if len(all) != 2 {
		t.Errorf("full listing should include tombstones, got %v", all)
	}

	old, _ := svc.ListDeletedBefore(ctx, time.Now().Add(time.Hour))
	if len(old) != 1 || old[0] != gone.ID {
		t.Errorf("deleted-before listing = %v", old)
	}
	if recent, _ := svc.ListDeletedBefore(ctx, time.Now().Add(-time.Hour)); len(recent) != 0 {
		t.Errorf("cutoff ignored: %v", recent)
	}

	if err := svc.HardDelete(ctx, []string{gone.ID}); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, err := svc.repo.Conversation(ctx, gone.ID); !errors.Is(err, apperr.ErrConversationNotFound) {
		t.Errorf("purged conversation still present: %v", err)
	}
}

func TestAdvanceLastReadIsMonotonic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	conv, _ := svc.CreateGroup(ctx, "owner", []string{"member1"})

	now := time.Now().UTC()
	if err := svc.AdvanceLastRead(ctx, conv.ID, "member1", 10, now); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := svc.AdvanceLastRead(ctx, conv.ID, "member1", 5, now.Add(time.Minute)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	repo := svc.repo.(*MemoryRepository)
	p, _ := repo.Participant(ctx, conv.ID, "member1")
	if p.LastReadSeq != 10 {
		t.Errorf("frontier regressed to %d", p.LastReadSeq)
	}
	if seq, _ := svc.LastReadSeq(ctx, conv.ID, "member1"); seq != 10 {
		t.Errorf("LastReadSeq = %d, want 10", seq)
	}
	if seq, _ := svc.LastReadSeq(ctx, conv.ID, "stranger"); seq != 0 {
		t.Errorf("LastReadSeq for unknown participant = %d, want 0", seq)
	}
}

func TestGroupNeedsTwoParticipants(t *testing.T) {
	svc := newTestService()
	if _, err := svc.CreateGroup(context.Background(), "owner", nil); !apperr.IsValidation(err) {
		t.Errorf("lonely group should be a validation error, got %v", err)
	}
}

func TestConversationsForUserSkipsDeletedAndInactive(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, _ := svc.CreateDirect(ctx, "alice", "bob")
	c2, _ := svc.CreateGroup(ctx, "alice", []string{"carol"})
	c3, _ := svc.CreateGroup(ctx, "alice", []string{"dave"})
	_ = svc.SoftDelete(ctx, c3.ID)
	_ = svc.RemoveParticipant(ctx, c2.ID, "alice", "alice")

	convs, _ := svc.ConversationsForUser(ctx, "alice")
	if len(convs) != 1 || convs[0] != c1.ID {
		t.Errorf("ConversationsForUser = %v, want [%s]", convs, c1.ID)
	}
}
