// mautrix-telegram - A Matrix-Telegram puppeting bridge.
// Copyright (C) 2025 Sumner Evans
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/util/gnuzip"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
	"go.mau.fi/mautrix-telegram/pkg/store"
)

// getLocationID derives the telegram_file cache key for a download location.
func getLocationID(loc any) string {
	switch location := loc.(type) {
	case *tg.Document:
		return fmt.Sprintf("%d", location.ID)
	case *tg.InputDocumentFileLocation:
		return fmt.Sprintf("%d-%s", location.ID, location.ThumbSize)
	case *tg.InputPhotoFileLocation:
		return fmt.Sprintf("%d-%s", location.ID, location.ThumbSize)
	case *tg.InputFileLocation:
		return fmt.Sprintf("%d-%d", location.VolumeID, location.LocalID)
	case *tg.InputPeerPhotoFileLocation:
		return fmt.Sprintf("%d", location.PhotoID)
	default:
		panic(fmt.Errorf("unknown location type %T", location))
	}
}

// Transferer is a builder for downloading media from Telegram and uploading
// it to Matrix.
type Transferer struct {
	client downloader.Client

	roomID                id.RoomID
	filename              string
	animatedStickerConfig *AnimatedStickerConfig

	fileInfo event.FileInfo
}

// ReadyTransferer is a [Transferer] that knows which file location to
// download.
type ReadyTransferer struct {
	inner *Transferer
	loc   tg.InputFileLocationClass
}

// NewTransferer creates a new [Transferer] which will download media using the
// given client.
func NewTransferer(client downloader.Client) *Transferer {
	return &Transferer{client: client}
}

// WithRoomID sets the room ID for the [Transferer].
func (t *Transferer) WithRoomID(roomID id.RoomID) *Transferer {
	t.roomID = roomID
	return t
}

// WithFilename sets the filename for the [Transferer].
func (t *Transferer) WithFilename(filename string) *Transferer {
	t.filename = filename
	return t
}

// WithStickerConfig sets the animated sticker config for the [Transferer].
func (t *Transferer) WithStickerConfig(cfg AnimatedStickerConfig) *Transferer {
	t.animatedStickerConfig = &cfg
	switch cfg.Target {
	case "png":
		t.fileInfo.MimeType = "image/png"
	case "gif":
		t.fileInfo.MimeType = "image/gif"
	case "webp":
		t.fileInfo.MimeType = "image/webp"
	case "webm":
		t.fileInfo.MimeType = "video/webm"
	}
	return t
}

func (t *Transferer) WithMIMEType(mimeType string) *Transferer {
	t.fileInfo.MimeType = mimeType
	return t
}

func (t *Transferer) WithThumbnail(uri id.ContentURIString, file *event.EncryptedFileInfo, info *event.FileInfo) *Transferer {
	t.fileInfo.ThumbnailURL = uri
	t.fileInfo.ThumbnailFile = file
	t.fileInfo.ThumbnailInfo = info
	return t
}

func (t *Transferer) WithVideo(attr *tg.DocumentAttributeVideo) *Transferer {
	t.fileInfo.Width, t.fileInfo.Height = attr.W, attr.H
	t.fileInfo.Duration = int(attr.Duration * 1000)
	return t
}

func (t *Transferer) WithImageSize(attr *tg.DocumentAttributeImageSize) *Transferer {
	t.fileInfo.Width, t.fileInfo.Height = attr.W, attr.H
	return t
}

// WithDocument turns the [Transferer] into a [ReadyTransferer] pointed at the
// given document, or its largest thumbnail.
func (t *Transferer) WithDocument(doc tg.DocumentClass, thumbnail bool) *ReadyTransferer {
	document := doc.(*tg.Document)
	documentFileLocation := tg.InputDocumentFileLocation{
		ID:            document.GetID(),
		AccessHash:    document.GetAccessHash(),
		FileReference: document.GetFileReference(),
	}
	if thumbnail {
		_, _, _, largestThumbnail := GetLargestPhotoSize(document.Thumbs)
		documentFileLocation.ThumbSize = largestThumbnail.GetType()
	} else {
		t.fileInfo.Size = int(document.Size)
		if t.fileInfo.MimeType == "" {
			t.fileInfo.MimeType = document.GetMimeType()
		}
	}
	return &ReadyTransferer{t, &documentFileLocation}
}

// WithPhoto turns the [Transferer] into a [ReadyTransferer] pointed at the
// largest size of the given photo.
func (t *Transferer) WithPhoto(pc tg.PhotoClass) *ReadyTransferer {
	photo := pc.(*tg.Photo)
	var largest tg.PhotoSizeClass
	t.fileInfo.Width, t.fileInfo.Height, t.fileInfo.Size, largest = GetLargestPhotoSize(photo.GetSizes())
	return &ReadyTransferer{
		inner: t,
		loc: &tg.InputPhotoFileLocation{
			ID:            photo.GetID(),
			AccessHash:    photo.GetAccessHash(),
			FileReference: photo.GetFileReference(),
			ThumbSize:     largest.GetType(),
		},
	}
}

// WithUserPhoto turns the [Transferer] into a [ReadyTransferer] pointed at the
// given user's profile photo.
func (t *Transferer) WithUserPhoto(ctx context.Context, scoped *store.ScopedStore, userID, photoID int64) (*ReadyTransferer, error) {
	accessHash, found, err := scoped.GetUserAccessHash(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user access hash for %d: %w", userID, err)
	} else if !found {
		return nil, fmt.Errorf("no access hash found for user %d", userID)
	}
	return &ReadyTransferer{
		inner: t,
		loc: &tg.InputPeerPhotoFileLocation{
			Peer:    &tg.InputPeerUser{UserID: userID, AccessHash: accessHash},
			PhotoID: photoID,
			Big:     true,
		},
	}, nil
}

// WithChannelPhoto turns the [Transferer] into a [ReadyTransferer] pointed at
// the given channel's photo.
func (t *Transferer) WithChannelPhoto(channelID, accessHash, photoID int64) *ReadyTransferer {
	return &ReadyTransferer{
		inner: t,
		loc: &tg.InputPeerPhotoFileLocation{
			Peer:    &tg.InputPeerChannel{ChannelID: channelID, AccessHash: accessHash},
			PhotoID: photoID,
			Big:     true,
		},
	}
}

// Transfer downloads the media from Telegram and uploads it to Matrix.
//
// If the file is already in the telegram_file cache, the MXC URI is reused.
// The URI is only cached for unencrypted uploads, since encrypted files can't
// be shared between rooms.
//
// If a sticker config is set, animated stickers are converted to the
// configured target format on the way through.
func (t *ReadyTransferer) Transfer(ctx context.Context, container *store.Container, intent bridgev2.MatrixAPI) (mxc id.ContentURIString, encryptedFileInfo *event.EncryptedFileInfo, outFileInfo *event.FileInfo, err error) {
	locationID := getLocationID(t.loc)
	log := zerolog.Ctx(ctx).With().
		Str("component", "media_transfer").
		Str("location_id", locationID).
		Logger()
	ctx = log.WithContext(ctx)

	if file, err := container.TelegramFile.GetByLocationID(ctx, locationID); err != nil {
		return "", nil, nil, fmt.Errorf("failed to search for Telegram file by location ID: %w", err)
	} else if file != nil {
		t.inner.fileInfo.Size, t.inner.fileInfo.MimeType = int(file.Size), file.MIMEType
		return id.ContentURIString(file.MXC), nil, &t.inner.fileInfo, nil
	}

	var reader io.Reader
	reader, t.inner.fileInfo.MimeType, t.inner.fileInfo.Size, err = t.Stream(ctx)
	if err != nil {
		return "", nil, nil, fmt.Errorf("downloading file failed: %w", err)
	}

	wasConverted := false
	if t.inner.animatedStickerConfig != nil && t.inner.fileInfo.MimeType == "application/x-tgsticker" {
		data, err := io.ReadAll(reader)
		if err != nil {
			return "", nil, nil, fmt.Errorf("reading sticker data failed: %w", err)
		}
		converted := t.inner.animatedStickerConfig.convert(ctx, data)
		reader = bytes.NewReader(converted.Data)
		wasConverted = converted.MIMEType != "application/x-tgsticker"
		t.inner.fileInfo.MimeType = converted.MIMEType
		t.inner.fileInfo.Width = converted.Width
		t.inner.fileInfo.Height = converted.Height
		t.inner.fileInfo.Size = len(converted.Data)

		if len(converted.ThumbnailData) > 0 {
			thumbnailMXC, thumbnailFileInfo, err := intent.UploadMedia(ctx, t.inner.roomID, converted.ThumbnailData, t.inner.filename, converted.ThumbnailMIMEType)
			if err != nil {
				log.Err(err).Msg("Failed to upload animated sticker thumbnail to Matrix")
			} else {
				t.inner = t.inner.WithThumbnail(thumbnailMXC, thumbnailFileInfo, &event.FileInfo{
					MimeType: converted.ThumbnailMIMEType,
					Width:    converted.Width,
					Height:   converted.Height,
					Size:     len(converted.ThumbnailData),
				})
			}
		}
	}

	mxc, encryptedFileInfo, err = intent.UploadMediaStream(ctx, t.inner.roomID, int64(t.inner.fileInfo.Size), false, func(file io.Writer) (*bridgev2.FileStreamResult, error) {
		_, err := io.Copy(file, reader)
		return &bridgev2.FileStreamResult{
			FileName: t.inner.filename,
			MimeType: t.inner.fileInfo.MimeType,
		}, err
	})
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to upload media to Matrix: %w", err)
	}

	// Encrypted uploads come back with only the decryption info, no plain
	// mxc, and can't be cached.
	if len(mxc) > 0 {
		file := container.TelegramFile.New()
		file.LocationID = locationID
		file.MXC = string(mxc)
		file.Size = int64(t.inner.fileInfo.Size)
		file.MIMEType = t.inner.fileInfo.MimeType
		file.Width = t.inner.fileInfo.Width
		file.Height = t.inner.fileInfo.Height
		file.WasConverted = wasConverted
		if err = file.Insert(ctx); err != nil {
			log.Err(err).Msg("Failed to insert Telegram file into database")
		}
	}
	return mxc, encryptedFileInfo, &t.inner.fileInfo, nil
}

// Stream starts the download from Telegram and returns a reader with the
// file contents.
func (t *ReadyTransferer) Stream(ctx context.Context) (r io.Reader, mimeType string, fileSize int, err error) {
	var storageFileType tg.StorageFileTypeClass
	storageFileType, r, err = downloader.NewDownloader().WithPartSize(1024*1024).Download(t.inner.client, t.loc).StreamToReader(ctx)
	if err != nil {
		return nil, "", 0, err
	}
	if t.inner.fileInfo.MimeType == "" {
		t.inner.fileInfo.MimeType = mimeTypeFromStorageFileType(storageFileType)
		if t.inner.fileInfo.MimeType == "" {
			// Documents carry their own MIME type and photos are always
			// JPEG, so this should never be hit.
			t.inner.fileInfo.MimeType = "image/jpeg"
		}
	}

	if t.inner.animatedStickerConfig != nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, "", 0, fmt.Errorf("failed to read animated sticker data: %w", err)
		} else if detected := http.DetectContentType(data); detected == "application/x-tgsticker" || detected == "application/x-gzip" {
			if unzipped, err := gnuzip.MaybeGUnzip(data); err != nil {
				zerolog.Ctx(ctx).Err(err).Msg("Failed to unzip animated sticker")
			} else {
				converted := t.inner.animatedStickerConfig.convert(ctx, unzipped)
				t.inner.fileInfo.MimeType = converted.MIMEType
				t.inner.fileInfo.Size = len(converted.Data)
				return bytes.NewReader(converted.Data), t.inner.fileInfo.MimeType, t.inner.fileInfo.Size, nil
			}
		}
		return bytes.NewReader(data), t.inner.fileInfo.MimeType, t.inner.fileInfo.Size, nil
	}

	return r, t.inner.fileInfo.MimeType, t.inner.fileInfo.Size, nil
}

// DownloadBytes downloads the media from Telegram into memory.
func (t *ReadyTransferer) DownloadBytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	_, err := downloader.NewDownloader().Download(t.inner.client, t.loc).Stream(ctx, &buf)
	return buf.Bytes(), err
}

// DirectDownloadURL returns a direct media mxc URI for the media instead of
// reuploading it to Matrix.
func (t *ReadyTransferer) DirectDownloadURL(ctx context.Context, portal *bridgev2.Portal, msgID int, thumbnail bool, telegramMediaID int64) (id.ContentURIString, *event.FileInfo, error) {
	peerType, chatID, err := ids.ParsePortalID(portal.ID)
	if err != nil {
		return "", nil, err
	}
	mediaID, err := ids.DirectMediaInfo{
		PeerType:        peerType,
		ChatID:          chatID,
		MessageID:       int64(msgID),
		Thumbnail:       thumbnail,
		TelegramMediaID: telegramMediaID,
	}.AsMediaID()
	if err != nil {
		return "", nil, err
	}
	mxc, err := portal.Bridge.Matrix.GenerateContentURI(ctx, mediaID)
	if t.inner.fileInfo.MimeType == "" {
		t.inner.fileInfo.MimeType = "image/jpeg"
	}
	if t.inner.fileInfo.MimeType == "application/x-tgsticker" {
		t.inner.fileInfo.MimeType = "video/lottie+json"
	}
	return mxc, &t.inner.fileInfo, err
}
