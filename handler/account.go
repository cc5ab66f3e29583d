package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rickcollette/kayveechat-server/apperr"
	"github.com/rickcollette/kayveechat-server/protocol"
	"github.com/rickcollette/kayveechat-server/store"
)

// HandleRegister processes the REGISTER command.
func (h *Handler) HandleRegister(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	username, password := p.Get("username"), p.Get("password")
	if username == "" || password == "" {
		return "", apperr.Validation("Username and password required")
	}

	digest, err := h.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	userID, err := h.store.CreateUserWithPassword(ctx, username, digest)
	if err != nil {
		return "", storeError(err)
	}
	return h.openSession(protocol.CmdRegister, userID, username)
}

// HandleLogin processes the LOGIN command.
func (h *Handler) HandleLogin(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	username, password := p.Get("username"), p.Get("password")
	if username == "" || password == "" {
		return "", apperr.Validation("Username and password required")
	}

	u, err := h.store.GetUserCredentials(ctx, username)
	if err != nil {
		return "", storeError(err)
	}
	if !h.hasher.Verify(password, u.PasswordHash) {
		return "", apperr.Auth("Invalid password")
	}
	return h.openSession(protocol.CmdLogin, u.ID, u.Username)
}

func (h *Handler) openSession(tag string, userID int64, username string) (string, error) {
	token, err := h.sessions.Create(userID, username)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return protocol.Fields(tag,
		"sessionId", token,
		"userId", strconv.FormatInt(userID, 10),
	), nil
}

// HandleLogout processes the LOGOUT command. Unknown tokens are accepted.
func (h *Handler) HandleLogout(_ context.Context, _ Peer, p protocol.Params) (string, error) {
	h.sessions.Remove(p.Get("sessionId"))
	return protocol.CmdLogout, nil
}

// HandleGetProfile processes the GET_PROFILE command. No session is needed.
func (h *Handler) HandleGetProfile(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	username := p.Get("username")
	if username == "" {
		return "", apperr.Validation("Username required")
	}
	profile, err := h.store.GetUserAvatarByUsername(ctx, username)
	if err != nil {
		return "", storeError(err)
	}
	return protocol.Fields("Profile",
		"username", profile.Username,
		"avatar_b64", profile.AvatarB64,
		"mime", profile.AvatarMime,
	), nil
}

// HandleSetAvatar processes the SET_AVATAR command and tells the user's chat
// partners, and the user's own subscribed connections, about the change.
func (h *Handler) HandleSetAvatar(ctx context.Context, _ Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	data, mime := p.Get("data"), p.Get("mime")
	if data == "" || mime == "" {
		return "", apperr.Validation("Avatar data required")
	}

	if err := h.store.SetUserAvatar(ctx, s.UserID, data, mime); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperr.NotFound("User not found")
		}
		return "", apperr.Persistence(err)
	}

	partners, err := h.store.GetChatPartnerIDs(ctx, s.UserID)
	if err != nil {
		// The avatar is stored; only the push is lost.
		h.log.Error().Err(err).Int64("user_id", s.UserID).Msg("failed to load chat partners for avatar event")
	}
	event := protocol.Event(protocol.Fields("AVATAR", "username", s.Username)).Encode()
	h.subs.Notify(append(partners, s.UserID), event)
	return "AvatarUpdated", nil
}

// HandleSubscribe processes the SUBSCRIBE command. The peer starts receiving
// events addressed to the session's user.
func (h *Handler) HandleSubscribe(_ context.Context, peer Peer, p protocol.Params) (string, error) {
	s, err := h.session(p)
	if err != nil {
		return "", err
	}
	h.subs.Register(peer, s.UserID)
	h.log.Debug().Uint64("conn_id", peer.ID()).Int64("user_id", s.UserID).Msg("connection subscribed")
	return "SUBSCRIBED", nil
}
