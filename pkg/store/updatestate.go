package store

import (
	"context"
	"database/sql"
	"errors"

	"go.mau.fi/mautrix-telegram/pkg/updates"
)

var _ updates.StateStorage = (*ScopedStore)(nil)

const (
	getStateQuery = "SELECT pts, qts, date, seq FROM telegram_user_state WHERE user_id=$1"
	setStateQuery = `
		INSERT INTO telegram_user_state (user_id, pts, qts, date, seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
			SET pts=excluded.pts, qts=excluded.qts, date=excluded.date, seq=excluded.seq
	`
	setPtsQuery     = "UPDATE telegram_user_state SET pts=$2 WHERE user_id=$1"
	setQtsQuery     = "UPDATE telegram_user_state SET qts=$2 WHERE user_id=$1"
	setDateQuery    = "UPDATE telegram_user_state SET date=$2 WHERE user_id=$1"
	setSeqQuery     = "UPDATE telegram_user_state SET seq=$2 WHERE user_id=$1"
	setDateSeqQuery = "UPDATE telegram_user_state SET date=$2, seq=$3 WHERE user_id=$1"

	deleteUserStateQuery    = "DELETE FROM telegram_user_state WHERE user_id=$1"
	deleteChannelStateQuery = "DELETE FROM telegram_channel_state WHERE user_id=$1"

	listChannelPtsQuery = "SELECT channel_id, pts FROM telegram_channel_state WHERE user_id=$1"
	getChannelPtsQuery  = "SELECT pts FROM telegram_channel_state WHERE user_id=$1 AND channel_id=$2"
	setChannelPtsQuery  = `
		INSERT INTO telegram_channel_state (user_id, channel_id, pts)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET pts=excluded.pts
	`
)

// DeleteUserState drops the common box sequence state. Used on logout, the
// next login starts from a fresh getState.
func (s *ScopedStore) DeleteUserState(ctx context.Context) error {
	_, err := s.db.Exec(ctx, deleteUserStateQuery, s.telegramUserID)
	return err
}

func (s *ScopedStore) DeleteChannelStateForUser(ctx context.Context) error {
	_, err := s.db.Exec(ctx, deleteChannelStateQuery, s.telegramUserID)
	return err
}

func (s *ScopedStore) GetState(ctx context.Context, userID int64) (state updates.State, found bool, err error) {
	s.assertScope(userID)
	err = s.db.QueryRow(ctx, getStateQuery, userID).Scan(&state.Pts, &state.Qts, &state.Date, &state.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return state, false, nil
	}
	return state, err == nil, err
}

func (s *ScopedStore) SetState(ctx context.Context, userID int64, state updates.State) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setStateQuery, userID, state.Pts, state.Qts, state.Date, state.Seq)
	return err
}

func (s *ScopedStore) SetPts(ctx context.Context, userID int64, pts int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setPtsQuery, userID, pts)
	return err
}

func (s *ScopedStore) SetQts(ctx context.Context, userID int64, qts int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setQtsQuery, userID, qts)
	return err
}

func (s *ScopedStore) SetDate(ctx context.Context, userID int64, date int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setDateQuery, userID, date)
	return err
}

func (s *ScopedStore) SetSeq(ctx context.Context, userID int64, seq int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setSeqQuery, userID, seq)
	return err
}

// SetDateSeq updates date and seq in one statement, because combined update
// boxes advance both at once.
func (s *ScopedStore) SetDateSeq(ctx context.Context, userID int64, date, seq int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setDateSeqQuery, userID, date, seq)
	return err
}

func (s *ScopedStore) ForEachChannels(ctx context.Context, userID int64, fn func(ctx context.Context, channelID int64, pts int) error) error {
	s.assertScope(userID)
	rows, err := s.db.Query(ctx, listChannelPtsQuery, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var channelID int64
		var pts int
		if err = rows.Scan(&channelID, &pts); err != nil {
			return err
		} else if err = fn(ctx, channelID, pts); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *ScopedStore) GetChannelPts(ctx context.Context, userID, channelID int64) (pts int, found bool, err error) {
	s.assertScope(userID)
	err = s.db.QueryRow(ctx, getChannelPtsQuery, userID, channelID).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return pts, err == nil, err
}

func (s *ScopedStore) SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setChannelPtsQuery, userID, channelID, pts)
	return err
}
