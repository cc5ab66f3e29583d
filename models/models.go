package models

import "time"

// Session binds an opaque token to a user for a bounded time window.
type Session struct {
	Token     string
	UserID    int64
	Username  string
	CreatedAt time.Time
}

// ExpiredAt reports whether the session is past its absolute lifetime at now.
func (s Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.CreatedAt.Add(ttl))
}

// User is a registered account.
type User struct {
	ID           int64   `gorm:"primaryKey"`
	Username     string  `gorm:"uniqueIndex;not null"`
	PasswordHash string  `gorm:"not null;default:''"`
	AvatarB64    *string `gorm:"column:avatar_b64"`
	AvatarMime   *string
	CreatedAt    time.Time
}

// Message is one direct message. E2E fields are stored and returned verbatim.
type Message struct {
	ID         int64   `gorm:"primaryKey"`
	SenderID   int64   `gorm:"not null;index:idx_messages_pair,priority:1"`
	ReceiverID int64   `gorm:"not null;index:idx_messages_pair,priority:2;index:idx_messages_unread,priority:1"`
	Body       string  `gorm:"not null"`
	E2EPayload *string `gorm:"column:e2e_payload"`
	E2EPub     *string `gorm:"column:e2e_pub"`
	IsRead     bool    `gorm:"not null;default:false;index:idx_messages_unread,priority:2"`
	CreatedAt  time.Time
	Sender     User `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE"`
	Receiver   User `gorm:"foreignKey:ReceiverID;constraint:OnDelete:CASCADE"`
}

// HasE2E reports whether the message carries end-to-end fields.
func (m Message) HasE2E() bool {
	return (m.E2EPayload != nil && *m.E2EPayload != "") || (m.E2EPub != nil && *m.E2EPub != "")
}

// ChatSummary is one row of a user's chat list.
type ChatSummary struct {
	Username    string
	UnreadCount int64
}

// Profile is the public part of a user.
type Profile struct {
	Username   string
	AvatarB64  string
	AvatarMime string
}

// Deref returns *s, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
