package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
	"go.mau.fi/mautrix-telegram/pkg/updates"
)

var _ updates.ChannelAccessHasher = (*ScopedStore)(nil)

const (
	getChannelAccessHashQuery = "SELECT access_hash FROM telegram_channel_access_hashes WHERE user_id=$1 AND channel_id=$2"
	setChannelAccessHashQuery = `
		INSERT INTO telegram_channel_access_hashes (user_id, channel_id, access_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET access_hash=excluded.access_hash
	`

	getUserMetadataQuery = "SELECT access_hash, username, phone FROM telegram_user_metadata WHERE receiver_id=$1 AND user_id=$2"
	setUserMetadataQuery = `
		INSERT INTO telegram_user_metadata (receiver_id, user_id, access_hash, username, phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (receiver_id, user_id) DO UPDATE
			SET access_hash=excluded.access_hash,
			    username=COALESCE(excluded.username, telegram_user_metadata.username),
			    phone=COALESCE(excluded.phone, telegram_user_metadata.phone)
	`
	setUserUsernameQuery     = "UPDATE telegram_user_metadata SET username=$3 WHERE receiver_id=$1 AND user_id=$2"
	setUserPhoneQuery        = "UPDATE telegram_user_metadata SET phone=$3 WHERE receiver_id=$1 AND user_id=$2"
	getUserUsernameQuery     = "SELECT username FROM telegram_user_metadata WHERE receiver_id=$1 AND user_id=$2"
	getUserIDByUsernameQuery = "SELECT user_id FROM telegram_user_metadata WHERE receiver_id=$1 AND username=$2"
	getUserIDByPhoneQuery    = "SELECT user_id FROM telegram_user_metadata WHERE receiver_id=$1 AND phone=$2"
	getUserAccessHashQuery   = "SELECT access_hash FROM telegram_user_metadata WHERE receiver_id=$1 AND user_id=$2"

	deleteChannelAccessHashesQuery = "DELETE FROM telegram_channel_access_hashes WHERE user_id=$1"
	deleteUserMetadataQuery        = "DELETE FROM telegram_user_metadata WHERE receiver_id=$1"

	setChannelUsernameQuery     = "UPDATE telegram_channel_access_hashes SET username=$3 WHERE user_id=$1 AND channel_id=$2"
	getChannelUsernameQuery     = "SELECT username FROM telegram_channel_access_hashes WHERE user_id=$1 AND channel_id=$2"
	getChannelIDByUsernameQuery = "SELECT channel_id FROM telegram_channel_access_hashes WHERE user_id=$1 AND username=$2"
)

func (s *ScopedStore) GetChannelAccessHash(ctx context.Context, userID, channelID int64) (hash int64, found bool, err error) {
	s.assertScope(userID)
	err = s.db.QueryRow(ctx, getChannelAccessHashQuery, userID, channelID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return hash, err == nil, err
}

func (s *ScopedStore) SetChannelAccessHash(ctx context.Context, userID, channelID, hash int64) error {
	s.assertScope(userID)
	_, err := s.db.Exec(ctx, setChannelAccessHashQuery, userID, channelID, hash)
	return err
}

// GetAccessHash looks up the access hash for any peer type. Normal groups
// don't have access hashes, so PeerTypeChat always succeeds with zero.
func (s *ScopedStore) GetAccessHash(ctx context.Context, peerType ids.PeerType, chatID int64) (int64, error) {
	switch peerType {
	case ids.PeerTypeUser:
		hash, found, err := s.GetUserAccessHash(ctx, chatID)
		if err != nil {
			return 0, err
		} else if !found {
			return 0, fmt.Errorf("no access hash found for user %d", chatID)
		}
		return hash, nil
	case ids.PeerTypeChat:
		return 0, nil
	case ids.PeerTypeChannel:
		hash, found, err := s.GetChannelAccessHash(ctx, s.telegramUserID, chatID)
		if err != nil {
			return 0, err
		} else if !found {
			return 0, fmt.Errorf("no access hash found for channel %d", chatID)
		}
		return hash, nil
	default:
		return 0, fmt.Errorf("unknown peer type %s", peerType)
	}
}

// DeleteAccessHashesForUser removes all access hashes and user metadata known
// to this login. Access hashes are tied to the auth key, so they are useless
// after logout.
func (s *ScopedStore) DeleteAccessHashesForUser(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, deleteChannelAccessHashesQuery, s.telegramUserID); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, deleteUserMetadataQuery, s.telegramUserID)
	return err
}

// SetAccessHash stores the access hash for any peer type. Setting one for a
// normal group is a no-op since those aren't addressed by hash.
func (s *ScopedStore) SetAccessHash(ctx context.Context, peerType ids.PeerType, chatID, hash int64) error {
	switch peerType {
	case ids.PeerTypeUser:
		return s.SetUserMetadata(ctx, chatID, UserMetadata{AccessHash: hash})
	case ids.PeerTypeChat:
		return nil
	case ids.PeerTypeChannel:
		return s.SetChannelAccessHash(ctx, s.telegramUserID, chatID, hash)
	default:
		return fmt.Errorf("unknown peer type %s", peerType)
	}
}

// SetUsername updates the stored username for a user or channel. The access
// hash row must already exist, a username on its own is useless.
func (s *ScopedStore) SetUsername(ctx context.Context, peerType ids.PeerType, chatID int64, username string) error {
	nullable := sql.NullString{String: username, Valid: username != ""}
	var err error
	switch peerType {
	case ids.PeerTypeUser:
		_, err = s.db.Exec(ctx, setUserUsernameQuery, s.telegramUserID, chatID, nullable)
	case ids.PeerTypeChannel:
		_, err = s.db.Exec(ctx, setChannelUsernameQuery, s.telegramUserID, chatID, nullable)
	default:
		err = fmt.Errorf("usernames not supported for peer type %s", peerType)
	}
	return err
}

func (s *ScopedStore) GetUsername(ctx context.Context, peerType ids.PeerType, chatID int64) (string, error) {
	var query string
	switch peerType {
	case ids.PeerTypeUser:
		query = getUserUsernameQuery
	case ids.PeerTypeChannel:
		query = getChannelUsernameQuery
	default:
		return "", fmt.Errorf("usernames not supported for peer type %s", peerType)
	}
	var username sql.NullString
	err := s.db.QueryRow(ctx, query, s.telegramUserID, chatID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	return username.String, err
}

// GetEntityIDByUsername resolves a username to the user or channel it belongs
// to. Returns a zero ID without error when the username is unknown.
func (s *ScopedStore) GetEntityIDByUsername(ctx context.Context, username string) (ids.PeerType, int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, getUserIDByUsernameQuery, s.telegramUserID, username).Scan(&id)
	if err == nil {
		return ids.PeerTypeUser, id, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", 0, err
	}
	err = s.db.QueryRow(ctx, getChannelIDByUsernameQuery, s.telegramUserID, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	return ids.PeerTypeChannel, id, err
}

func (s *ScopedStore) SetPhoneNumber(ctx context.Context, userID int64, phone string) error {
	_, err := s.db.Exec(ctx, setUserPhoneQuery, s.telegramUserID, userID, sql.NullString{String: phone, Valid: phone != ""})
	return err
}

// UserMetadata is what a login knows about another Telegram user: the access
// hash needed to address them plus searchable identifiers.
type UserMetadata struct {
	AccessHash int64
	Username   string
	Phone      string
}

func (s *ScopedStore) GetUserMetadata(ctx context.Context, userID int64) (meta UserMetadata, found bool, err error) {
	var username, phone sql.NullString
	err = s.db.QueryRow(ctx, getUserMetadataQuery, s.telegramUserID, userID).Scan(&meta.AccessHash, &username, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, false, nil
	}
	meta.Username = username.String
	meta.Phone = phone.String
	return meta, err == nil, err
}

func (s *ScopedStore) GetUserAccessHash(ctx context.Context, userID int64) (hash int64, found bool, err error) {
	err = s.db.QueryRow(ctx, getUserAccessHashQuery, s.telegramUserID, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return hash, err == nil, err
}

// SetUserMetadata upserts the access hash for a user. Empty username/phone
// leave any previously stored value in place.
func (s *ScopedStore) SetUserMetadata(ctx context.Context, userID int64, meta UserMetadata) error {
	username := sql.NullString{String: meta.Username, Valid: meta.Username != ""}
	phone := sql.NullString{String: meta.Phone, Valid: meta.Phone != ""}
	_, err := s.db.Exec(ctx, setUserMetadataQuery, s.telegramUserID, userID, meta.AccessHash, username, phone)
	return err
}

func (s *ScopedStore) GetUserIDByPhoneNumber(ctx context.Context, phone string) (userID int64, err error) {
	err = s.db.QueryRow(ctx, getUserIDByPhoneQuery, s.telegramUserID, phone).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	return
}
