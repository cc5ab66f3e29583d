package handler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickcollette/kayveechat-server/apperr"
	"github.com/rickcollette/kayveechat-server/core"
	"github.com/rickcollette/kayveechat-server/models"
	"github.com/rickcollette/kayveechat-server/protocol"
	"github.com/rickcollette/kayveechat-server/store"
)

// Store is the persistence the command handlers need.
type Store interface {
	CreateUserWithPassword(ctx context.Context, username, passwordHash string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserCredentials(ctx context.Context, username string) (models.User, error)
	GetUserAvatarByUsername(ctx context.Context, username string) (models.Profile, error)
	SetUserAvatar(ctx context.Context, userID int64, avatarB64, avatarMime string) error
	InsertMessage(ctx context.Context, senderID, receiverID int64, body string) (int64, error)
	InsertMessageWithE2E(ctx context.Context, senderID, receiverID int64, body, e2ePayload, e2ePub string) (int64, error)
	GetMessagesAndMarkRead(ctx context.Context, reader, contact int64, limit, offset int) ([]models.Message, error)
	GetInbox(ctx context.Context, userID int64, limit, offset int) ([]models.Message, error)
	GetChatsWithUnreadCounts(ctx context.Context, userID int64) ([]models.ChatSummary, error)
	GetChatPartnerIDs(ctx context.Context, userID int64) ([]int64, error)
	DeleteChatMessages(ctx context.Context, userID, contactID int64) (int64, error)
}

// Peer is the connection a command arrived on. SUBSCRIBE registers it for
// event delivery.
type Peer interface {
	core.Subscriber
}

// Observer receives one call per handled command.
type Observer interface {
	CommandHandled(command, status string, took time.Duration)
}

// Default page sizes.
const (
	DefaultMessagesLimit = 50
	DefaultInboxLimit    = 20
)

type commandFunc func(h *Handler, ctx context.Context, peer Peer, p protocol.Params) (string, error)

var commands = map[string]commandFunc{
	protocol.CmdRegister:       (*Handler).HandleRegister,
	protocol.CmdLogin:          (*Handler).HandleLogin,
	protocol.CmdLogout:         (*Handler).HandleLogout,
	protocol.CmdSend:           (*Handler).HandleSend,
	protocol.CmdSendE2E:        (*Handler).HandleSendE2E,
	protocol.CmdGetMessages:    (*Handler).HandleGetMessages,
	protocol.CmdGetMessagesE2E: (*Handler).HandleGetMessages,
	protocol.CmdGetChats:       (*Handler).HandleGetChats,
	protocol.CmdGetProfile:     (*Handler).HandleGetProfile,
	protocol.CmdSetAvatar:      (*Handler).HandleSetAvatar,
	protocol.CmdGetInbox:       (*Handler).HandleGetInbox,
	protocol.CmdDeleteChat:     (*Handler).HandleDeleteChat,
	protocol.CmdSubscribe:      (*Handler).HandleSubscribe,
}

// Handler executes decoded commands against the session directory, the
// subscriber registry and the store.
type Handler struct {
	store    Store
	sessions *core.SessionDirectory
	subs     *core.Registry
	hasher   *core.PasswordHasher
	log      zerolog.Logger
	observer Observer
}

// New builds a Handler. observer may be nil.
func New(st Store, sessions *core.SessionDirectory, subs *core.Registry, hasher *core.PasswordHasher, log zerolog.Logger, observer Observer) *Handler {
	return &Handler{
		store:    st,
		sessions: sessions,
		subs:     subs,
		hasher:   hasher,
		log:      log.With().Str("component", "handler").Logger(),
		observer: observer,
	}
}

// Handle runs one command and returns the response line to write back.
// Every failure becomes an [ERROR] response except connection errors, which
// are returned so the caller can drop the connection.
func (h *Handler) Handle(ctx context.Context, peer Peer, cmd protocol.Command) (protocol.Response, error) {
	start := time.Now()
	resp, err := h.dispatch(ctx, peer, cmd)
	if h.observer != nil {
		status := "ok"
		if err != nil || resp.Status == protocol.StatusError {
			status = "error"
		}
		name := cmd.Name
		if _, known := commands[name]; !known {
			name = "unknown"
		}
		h.observer.CommandHandled(name, status, time.Since(start))
	}
	return resp, err
}

func (h *Handler) dispatch(ctx context.Context, peer Peer, cmd protocol.Command) (protocol.Response, error) {
	fn, ok := commands[cmd.Name]
	if !ok {
		return protocol.Error("Unknown command"), nil
	}

	payload, err := fn(h, ctx, peer, cmd.Params)
	if err == nil {
		return protocol.OK(payload), nil
	}

	log := h.log.With().Str("command", cmd.Name).Uint64("conn_id", peer.ID()).Logger()
	switch apperr.KindOf(err) {
	case apperr.KindConnection:
		return protocol.Response{}, err
	case apperr.KindPersistence, apperr.KindUnknown:
		log.Error().Err(err).Msg("command failed")
	default:
		log.Warn().Str("kind", apperr.KindOf(err).String()).Msg(apperr.Message(err))
	}
	return protocol.Error(apperr.Message(err)), nil
}

// session resolves the sessionId parameter to a live session.
func (h *Handler) session(p protocol.Params) (models.Session, error) {
	s, ok := h.sessions.Get(p.Get("sessionId"))
	if !ok {
		return models.Session{}, apperr.Auth("Invalid session")
	}
	return s, nil
}

// lookupUser resolves a username, reporting a missing row as "User not found".
func (h *Handler) lookupUser(ctx context.Context, username string) (models.User, error) {
	u, err := h.store.GetUserByUsername(ctx, username)
	if err != nil {
		return models.User{}, storeError(err)
	}
	return u, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("User not found")
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Validation("User already exists")
	default:
		return apperr.Persistence(err)
	}
}

func pagination(p protocol.Params, defaultLimit int) (int, int, error) {
	limit, err := p.Int("limit", defaultLimit)
	if err != nil {
		return 0, 0, apperr.Validation("Invalid pagination")
	}
	offset, err := p.Int("offset", 0)
	if err != nil {
		return 0, 0, apperr.Validation("Invalid pagination")
	}
	return limit, offset, nil
}
