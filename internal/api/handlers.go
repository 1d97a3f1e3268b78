package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/realtime-service/internal/dispatch"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

type handlers struct {
	deps Deps
}

func (h *handlers) userID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}

func (h *handlers) createDirect(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	conv, err := h.deps.Memberships.CreateDirect(c.Context(), h.userID(c), req.UserID)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *handlers) createGroup(c *fiber.Ctx) error {
	var req struct {
		Members []string `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	conv, err := h.deps.Memberships.CreateGroup(c.Context(), h.userID(c), req.Members)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	msg, err := h.deps.Dispatcher.Send(c.Context(), c.Params("id"), h.userID(c), req.Content, model.MessageType(req.Type))
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *handlers) listSince(c *fiber.Ctx) error {
	convID := c.Params("id")
	if err := h.deps.Memberships.AssertCanParticipate(c.Context(), convID, h.userID(c)); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	afterSeq, _ := strconv.ParseInt(c.Query("after_seq", "0"), 10, 64)
	msgs, err := h.deps.Store.ListSince(c.Context(), convID, afterSeq)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *handlers) history(c *fiber.Ctx) error {
	convID := c.Params("id")
	if err := h.deps.Memberships.AssertCanParticipate(c.Context(), convID, h.userID(c)); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	beforeSeq, _ := strconv.ParseInt(c.Query("before_seq", "0"), 10, 64)
	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	msgs, err := h.deps.Store.History(c.Context(), convID, beforeSeq, limit)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *handlers) markDelivered(c *fiber.Ctx) error {
	return h.statusUpdate(c, dispatch.KindDelivered)
}

func (h *handlers) markRead(c *fiber.Ctx) error {
	return h.statusUpdate(c, dispatch.KindRead)
}

func (h *handlers) statusUpdate(c *fiber.Ctx, kind dispatch.Kind) error {
	err := h.deps.Dispatcher.StatusUpdate(c.Context(), c.Params("msg_id"), h.userID(c), kind, time.Now().UTC())
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) readConversation(c *fiber.Ctx) error {
	err := h.deps.Dispatcher.ConversationRead(c.Context(), c.Params("id"), h.userID(c), time.Now().UTC())
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) unreadCount(c *fiber.Ctx) error {
	convID := c.Params("id")
	userID := h.userID(c)
	if err := h.deps.Memberships.AssertCanParticipate(c.Context(), convID, userID); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	var afterSeq int64
	if q := c.Query("after_seq"); q != "" {
		afterSeq, _ = strconv.ParseInt(q, 10, 64)
	} else {
		var err error
		afterSeq, err = h.deps.Memberships.LastReadSeq(c.Context(), convID, userID)
		if err != nil {
			return respondErr(c, h.deps.Log, err)
		}
	}
	n, err := h.deps.Store.UnreadSince(c.Context(), convID, userID, afterSeq)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "unread": n})
}

func (h *handlers) addParticipant(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.deps.Memberships.AddParticipant(c.Context(), c.Params("id"), h.userID(c), req.UserID); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) removeParticipant(c *fiber.Ctx) error {
	if err := h.deps.Memberships.RemoveParticipant(c.Context(), c.Params("id"), h.userID(c), c.Params("user_id")); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) deleteConversation(c *fiber.Ctx) error {
	convID := c.Params("id")
	if err := h.deps.Memberships.AssertCanParticipate(c.Context(), convID, h.userID(c)); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	if err := h.deps.Memberships.SoftDelete(c.Context(), convID); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Retention surface, called by the external sweep job.

func (h *handlers) adminListConversations(c *fiber.Ctx) error {
	onlyActive := c.Query("active") == "true"
	ids, err := h.deps.Memberships.ListConversationIDs(c.Context(), onlyActive)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": ids})
}

func (h *handlers) adminListDeleted(c *fiber.Ctx) error {
	cutoff, err := time.Parse(time.RFC3339, c.Query("before"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "before must be RFC3339"})
	}
	ids, err := h.deps.Memberships.ListDeletedBefore(c.Context(), cutoff)
	if err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": ids})
}

func (h *handlers) adminPurge(c *fiber.Ctx) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.deps.Memberships.HardDelete(c.Context(), req.IDs); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	if err := h.deps.Store.PurgeConversations(c.Context(), req.IDs); err != nil {
		return respondErr(c, h.deps.Log, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "purged": len(req.IDs)})
}
