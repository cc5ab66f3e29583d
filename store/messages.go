package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rickcollette/kayveechat-server/models"
)

// InsertMessage stores a plain message and returns its id.
func (d *DB) InsertMessage(ctx context.Context, senderID, receiverID int64, body string) (int64, error) {
	return d.insert(ctx, models.Message{SenderID: senderID, ReceiverID: receiverID, Body: body})
}

// InsertMessageWithE2E stores a message with opaque end-to-end fields.
func (d *DB) InsertMessageWithE2E(ctx context.Context, senderID, receiverID int64, body, e2ePayload, e2ePub string) (int64, error) {
	return d.insert(ctx, models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		E2EPayload: &e2ePayload,
		E2EPub:     &e2ePub,
	})
}

func (d *DB) insert(ctx context.Context, m models.Message) (int64, error) {
	if err := withOmitAssociations(d.gorm.WithContext(ctx)).Create(&m).Error; err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return m.ID, nil
}

func conversation(tx *gorm.DB, userA, userB int64) *gorm.DB {
	return tx.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userA, userB, userB, userA,
	)
}

// GetMessagesBetween returns one page of the conversation, oldest first.
func (d *DB) GetMessagesBetween(ctx context.Context, userA, userB int64, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := conversation(d.gorm.WithContext(ctx).Model(&models.Message{}), userA, userB).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("get messages between: %w", err)
	}
	return msgs, nil
}

// GetMessagesAndMarkRead returns one page of the conversation, oldest first,
// and marks the messages in that page addressed to reader as read, in one
// transaction. The returned rows carry the read flag as it was before.
func (d *DB) GetMessagesAndMarkRead(ctx context.Context, reader, contact int64, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := conversation(tx.Model(&models.Message{}), reader, contact).
			Order("created_at ASC").Order("id ASC").
			Limit(limit).Offset(offset).
			Find(&msgs).Error
		if err != nil {
			return err
		}

		var unread []int64
		for _, m := range msgs {
			if m.ReceiverID == reader && !m.IsRead {
				unread = append(unread, m.ID)
			}
		}
		if len(unread) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).
			Where("id IN ?", unread).
			Update("is_read", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get messages and mark read: %w", err)
	}
	return msgs, nil
}

// MarkMessagesRead marks every unread message from sender to receiver as read.
func (d *DB) MarkMessagesRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	res := d.gorm.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetInbox returns one page of messages received by the user, newest first.
func (d *DB) GetInbox(ctx context.Context, userID int64, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := d.gorm.WithContext(ctx).
		Where("receiver_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("get inbox: %w", err)
	}
	return msgs, nil
}

// GetChatsWithUnreadCounts lists every contact the user has exchanged
// messages with, ordered by username, with the number of unread messages
// from that contact.
func (d *DB) GetChatsWithUnreadCounts(ctx context.Context, userID int64) ([]models.ChatSummary, error) {
	var rows []models.ChatSummary
	err := d.gorm.WithContext(ctx).Raw(`
		SELECT u.username AS username,
		       COALESCE(SUM(CASE WHEN m.receiver_id = ? AND m.is_read = ? THEN 1 ELSE 0 END), 0) AS unread_count
		FROM messages m
		JOIN users u ON u.id = CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
		WHERE m.sender_id = ? OR m.receiver_id = ?
		GROUP BY u.username
		ORDER BY u.username`,
		userID, false, userID, userID, userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get chats with unread counts: %w", err)
	}
	return rows, nil
}

// GetChatPartnerIDs returns the ids of every user the given user has
// exchanged messages with.
func (d *DB) GetChatPartnerIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := d.gorm.WithContext(ctx).Raw(`
		SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID, userID,
	).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("get chat partner ids: %w", err)
	}
	return ids, nil
}

// DeleteChatMessages removes the whole conversation between two users and
// returns how many messages were removed.
func (d *DB) DeleteChatMessages(ctx context.Context, userID, contactID int64) (int64, error) {
	res := conversation(d.gorm.WithContext(ctx), userID, contactID).Delete(&models.Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}
