package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const notificationColumns = `id, account_id, title, message, kind, is_read, created_at`

// CreateNotification stores an in-app notification.
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	if n == nil {
		return errors.New("notification is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock()
	}
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	_, err := s.exec(ctx, `INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.AccountID, n.Title, n.Message, string(n.Kind), boolInt(n.Read), toMillis(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns an account's notifications newest first.
func (s *Store) ListNotifications(ctx context.Context, accountID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE account_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		var (
			n         Notification
			kind      string
			read      int
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Title, &n.Message, &kind, &read, &createdAt); err != nil {
			return nil, err
		}
		n.Kind = NotificationKind(kind)
		n.Read = read != 0
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as read.
func (s *Store) MarkNotificationRead(ctx context.Context, accountID, id string) error {
	res, err := s.exec(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
