package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/dispatch"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/membership"
	"github.com/fathima-sithara/realtime-service/internal/model"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/store"
)

func newRouteFixture(t *testing.T) (*Handler, *membership.Service, *store.MemoryStore) {
	t.Helper()
	svc := membership.NewService(membership.NewMemoryRepository())
	st := store.NewMemoryStore()
	reg := presence.NewRegistry()
	d := dispatch.New(svc, st, reg, events.Nop{}, zap.NewNop().Sugar())
	h := NewHandler(reg, nil, d, auth.NewValidator("test-secret"), Config{
		PingInterval:   time.Second,
		WriteDeadline:  time.Second,
		MaxMessageSize: 1024,
		SendRatePerSec: 10,
	}, zap.NewNop().Sugar())
	return h, svc, st
}

// pops the next queued reply without running the write pump
func nextReply(t *testing.T, c *Client) (dispatch.Event, bool) {
	t.Helper()
	select {
	case b := <-c.send:
		var ev dispatch.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("bad reply frame: %v", err)
		}
		return ev, true
	default:
		return dispatch.Event{}, false
	}
}

func decodePayload(t *testing.T, ev dispatch.Event, into any) {
	t.Helper()
	b, _ := json.Marshal(ev.Payload)
	if err := json.Unmarshal(b, into); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
}

func TestRouteAcksPersistedSend(t *testing.T) {
	h, svc, st := newRouteFixture(t)
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")
	client := NewClient(nil, time.Second, time.Second, 1024, 10)

	h.route(ctx, "alice", client, Envelope{
		Type:    FrameSendMessage,
		Payload: Payload{ConversationID: conv.ID, Content: "hi", MsgType: "TEXT"},
	})

	ev, ok := nextReply(t, client)
	if !ok || ev.Type != FrameAck {
		t.Fatalf("expected an ACK reply, got %+v (ok=%v)", ev, ok)
	}
	var ack ackReply
	decodePayload(t, ev, &ack)
	if ack.Frame != FrameSendMessage || ack.Message == nil || ack.Message.Content != "hi" {
		t.Errorf("ack payload mismatch: %+v", ack)
	}
	if _, err := st.Get(ctx, ack.Message.ID); err != nil {
		t.Errorf("acked message not persisted: %v", err)
	}
}

func TestRouteReportsSendRejections(t *testing.T) {
	h, svc, _ := newRouteFixture(t)
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")

	cases := []struct {
		name   string
		sender string
		env    Envelope
		reason string
	}{
		{
			name:   "outsider",
			sender: "mallory",
			env:    Envelope{Type: FrameSendMessage, Payload: Payload{ConversationID: conv.ID, Content: "boo", MsgType: "TEXT"}},
			reason: "access_denied",
		},
		{
			name:   "unknown conversation",
			sender: "alice",
			env:    Envelope{Type: FrameSendMessage, Payload: Payload{ConversationID: "missing", Content: "hi", MsgType: "TEXT"}},
			reason: "conversation_not_found",
		},
		{
			name:   "unknown message ack",
			sender: "alice",
			env:    Envelope{Type: FrameMarkRead, Payload: Payload{MessageID: "missing"}},
			reason: "message_not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(nil, time.Second, time.Second, 1024, 10)
			h.route(ctx, tc.sender, client, tc.env)

			ev, ok := nextReply(t, client)
			if !ok || ev.Type != FrameError {
				t.Fatalf("expected an ERROR reply, got %+v (ok=%v)", ev, ok)
			}
			var er errorReply
			decodePayload(t, ev, &er)
			if er.Reason != tc.reason || er.Frame != tc.env.Type {
				t.Errorf("error payload = %+v, want reason %q for %s", er, tc.reason, tc.env.Type)
			}
		})
	}
}

func TestRouteReportsValidationDetail(t *testing.T) {
	h, svc, _ := newRouteFixture(t)
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")
	client := NewClient(nil, time.Second, time.Second, 1024, 10)

	h.route(ctx, "alice", client, Envelope{
		Type:    FrameSendMessage,
		Payload: Payload{ConversationID: conv.ID, Content: "", MsgType: "TEXT"},
	})

	ev, ok := nextReply(t, client)
	if !ok || ev.Type != FrameError {
		t.Fatalf("expected an ERROR reply, got %+v (ok=%v)", ev, ok)
	}
	var er errorReply
	decodePayload(t, ev, &er)
	if er.Reason == "" || er.Reason == "internal" {
		t.Errorf("validation rejection lost its detail: %+v", er)
	}
}

func TestRouteQuietOnAcceptedAcks(t *testing.T) {
	h, svc, st := newRouteFixture(t)
	ctx := context.Background()
	conv, _ := svc.CreateDirect(ctx, "alice", "bob")
	msg, _ := st.Append(ctx, conv.ID, "alice", "hi", model.TypeText)
	client := NewClient(nil, time.Second, time.Second, 1024, 10)

	h.route(ctx, "bob", client, Envelope{Type: FrameMarkRead, Payload: Payload{MessageID: msg.ID}})

	// receipt acks need no reply of their own; the broadcast covers them
	if ev, ok := nextReply(t, client); ok {
		t.Errorf("unexpected reply to an accepted ack: %+v", ev)
	}
}
