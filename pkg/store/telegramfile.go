package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.mau.fi/util/dbutil"
)

const (
	telegramFileColumns = "id, mxc, mime_type, was_converted, timestamp, size, width, height, thumbnail, decryption_info"

	insertTelegramFileQuery = `
		INSERT INTO telegram_file (` + telegramFileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	getTelegramFileByLocationIDQuery = "SELECT " + telegramFileColumns + " FROM telegram_file WHERE id=$1"
	getTelegramFileByMXCQuery        = "SELECT " + telegramFileColumns + " FROM telegram_file WHERE mxc=$1"
)

// TelegramFile is one cache entry mapping a Telegram file location to an
// already-uploaded Matrix content URI. Only unencrypted uploads are cached.
type TelegramFile struct {
	qh *dbutil.QueryHelper[*TelegramFile]

	LocationID     string
	MXC            string
	MIMEType       string
	WasConverted   bool
	Timestamp      time.Time
	Size           int64
	Width          int
	Height         int
	ThumbnailID    string
	DecryptionInfo json.RawMessage
}

var _ dbutil.DataStruct[*TelegramFile] = (*TelegramFile)(nil)

type TelegramFileQuery struct {
	*dbutil.QueryHelper[*TelegramFile]
}

func newTelegramFile(qh *dbutil.QueryHelper[*TelegramFile]) *TelegramFile {
	return &TelegramFile{qh: qh}
}

func (fq *TelegramFileQuery) GetByLocationID(ctx context.Context, locationID string) (*TelegramFile, error) {
	return fq.QueryOne(ctx, getTelegramFileByLocationIDQuery, locationID)
}

func (fq *TelegramFileQuery) GetByMXC(ctx context.Context, mxc string) (*TelegramFile, error) {
	return fq.QueryOne(ctx, getTelegramFileByMXCQuery, mxc)
}

func (f *TelegramFile) Scan(row dbutil.Scannable) (*TelegramFile, error) {
	var thumbnailID sql.NullString
	var timestamp int64
	err := row.Scan(
		&f.LocationID, &f.MXC, &f.MIMEType, &f.WasConverted, &timestamp,
		&f.Size, &f.Width, &f.Height, &thumbnailID, &f.DecryptionInfo,
	)
	if err != nil {
		return nil, err
	}
	f.Timestamp = time.UnixMilli(timestamp)
	f.ThumbnailID = thumbnailID.String
	return f, nil
}

func (f *TelegramFile) Insert(ctx context.Context) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	return f.qh.Exec(ctx, insertTelegramFileQuery,
		f.LocationID, f.MXC, f.MIMEType, f.WasConverted, f.Timestamp.UnixMilli(),
		f.Size, f.Width, f.Height,
		sql.NullString{String: f.ThumbnailID, Valid: f.ThumbnailID != ""},
		f.DecryptionInfo,
	)
}
