package handler

import (
	"context"
	"strconv"

	"github.com/rickcollette/kayveechat-server/apperr"
	"github.com/rickcollette/kayveechat-server/models"
	"github.com/rickcollette/kayveechat-server/protocol"
)

// HandleSend processes the SEND command.
func (h *Handler) HandleSend(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	return h.send(ctx, p, false)
}

// HandleSendE2E processes the SEND_E2E command. The e2e fields are stored
// as given and never inspected.
func (h *Handler) HandleSendE2E(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	return h.send(ctx, p, true)
}

func (h *Handler) send(ctx context.Context, p protocol.Params, e2e bool) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	to, body := p.Get("to"), p.Get(protocol.BodyKey)
	if to == "" {
		return "", apperr.Validation("Receiver username required")
	}
	if body == "" {
		return "", apperr.Validation("Message body required")
	}
	if e2e && p.Get("e2e") == "" {
		return "", apperr.Validation("E2E payload required")
	}

	receiver, err := h.lookupUser(ctx, to)
	if err != nil {
		return "", err
	}

	var id int64
	if e2e {
		id, err = h.store.InsertMessageWithE2E(ctx, s.UserID, receiver.ID, body, p.Get("e2e"), p.Get("e2e_pub"))
	} else {
		id, err = h.store.InsertMessage(ctx, s.UserID, receiver.ID, body)
	}
	if err != nil {
		return "", apperr.Persistence(err)
	}

	event := protocol.Event(protocol.Fields("MESSAGE",
		"from", s.Username,
		"to", receiver.Username,
		"body", body,
	)).Encode()
	h.subs.Notify([]int64{s.UserID, receiver.ID}, event)

	return "MessageSent:" + strconv.FormatInt(id, 10), nil
}

// HandleGetMessages processes GET_MESSAGES and GET_MESSAGES_E2E. Incoming
// messages in the returned page are marked read.
func (h *Handler) HandleGetMessages(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	contactName := p.Get("contact")
	if contactName == "" {
		return "", apperr.Validation("Contact username required")
	}
	limit, offset, err := pagination(p, DefaultMessagesLimit)
	if err != nil {
		return "", err
	}
	contact, err := h.lookupUser(ctx, contactName)
	if err != nil {
		return "", err
	}

	msgs, err := h.store.GetMessagesAndMarkRead(ctx, s.UserID, contact.ID, limit, offset)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		row := []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.SenderID, 10),
			readFlag(m),
			m.Body,
		}
		if m.HasE2E() {
			row = append(row, models.Deref(m.E2EPayload), models.Deref(m.E2EPub))
		}
		rows = append(rows, row)
	}
	return protocol.Records("Messages", rows), nil
}

func readFlag(m models.Message) string {
	if m.IsRead {
		return "1"
	}
	return "0"
}

// HandleGetChats processes the GET_CHATS command.
func (h *Handler) HandleGetChats(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	chats, err := h.store.GetChatsWithUnreadCounts(ctx, s.UserID)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	rows := make([][]string, 0, len(chats))
	for _, c := range chats {
		rows = append(rows, []string{c.Username, strconv.FormatInt(c.UnreadCount, 10)})
	}
	return protocol.Records("Chats", rows), nil
}

// HandleGetInbox processes the GET_INBOX command.
func (h *Handler) HandleGetInbox(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	limit, offset, err := pagination(p, DefaultInboxLimit)
	if err != nil {
		return "", err
	}
	msgs, err := h.store.GetInbox(ctx, s.UserID, limit, offset)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.SenderID, 10),
			m.Body,
		})
	}
	return protocol.Records("Inbox", rows), nil
}

// HandleDeleteChat processes the DELETE_CHAT command. Both directions of the
// conversation are removed.
func (h *Handler) HandleDeleteChat(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	contactName := p.Get("contact")
	if contactName == "" {
		return "", apperr.Validation("Contact username required")
	}
	contact, err := h.lookupUser(ctx, contactName)
	if err != nil {
		return "", err
	}
	n, err := h.store.DeleteChatMessages(ctx, s.UserID, contact.ID)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	return protocol.Fields("ChatDeleted", "count", strconv.FormatInt(n, 10)), nil
}
