package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gotd/td/session"
)

var _ session.Storage = (*ScopedStore)(nil)

const (
	loadSessionQuery  = "SELECT session_data FROM telegram_session WHERE user_id=$1"
	storeSessionQuery = `
		INSERT INTO telegram_session (user_id, session_data)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET session_data=excluded.session_data
	`
	deleteSessionQuery = "DELETE FROM telegram_session WHERE user_id=$1"
)

// LoadSession returns the stored MTProto session blob. The blob is opaque to
// the store.
func (s *ScopedStore) LoadSession(ctx context.Context) (data []byte, err error) {
	err = s.db.QueryRow(ctx, loadSessionQuery, s.telegramUserID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		err = session.ErrNotFound
	}
	return
}

func (s *ScopedStore) StoreSession(ctx context.Context, data []byte) error {
	_, err := s.db.Exec(ctx, storeSessionQuery, s.telegramUserID, data)
	return err
}

func (s *ScopedStore) DeleteSession(ctx context.Context) error {
	_, err := s.db.Exec(ctx, deleteSessionQuery, s.telegramUserID)
	return err
}

// HasSession reports whether a non-empty session blob is stored.
func (s *ScopedStore) HasSession(ctx context.Context) (bool, error) {
	data, err := s.LoadSession(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}
