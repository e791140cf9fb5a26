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

// Package media downloads files from Telegram and uploads them to Matrix.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

type dimensionable interface {
	GetW() int
	GetH() int
}

// GetLargestPhotoSize picks the best quality size from a photo's size list.
func GetLargestPhotoSize(sizes []tg.PhotoSizeClass) (width, height, fileSize int, largest tg.PhotoSizeClass) {
	if len(sizes) == 0 {
		panic("cannot get largest size from empty list of sizes")
	}

	for _, s := range sizes {
		var currentSize int
		switch size := s.(type) {
		case *tg.PhotoSize:
			currentSize = size.GetSize()
		case *tg.PhotoCachedSize:
			currentSize = max(size.W, size.H, len(size.Bytes))
		case *tg.PhotoSizeProgressive:
			currentSize = max(size.W, size.H)
			for _, sz := range size.Sizes {
				currentSize = max(currentSize, sz)
			}
		case *tg.PhotoPathSize:
			currentSize = len(size.GetBytes())
		case *tg.PhotoStrippedSize:
			currentSize = len(size.GetBytes())
		}

		if currentSize > fileSize {
			fileSize = currentSize
			largest = s
			if d, ok := s.(dimensionable); ok {
				width = d.GetW()
				height = d.GetH()
			}
		}
	}
	return
}

func mimeTypeFromStorageFileType(sft tg.StorageFileTypeClass) string {
	switch sft.(type) {
	case *tg.StorageFileJpeg:
		return "image/jpeg"
	case *tg.StorageFileGif:
		return "image/gif"
	case *tg.StorageFilePng:
		return "image/png"
	case *tg.StorageFilePdf:
		return "application/pdf"
	case *tg.StorageFileMp3:
		return "audio/mp3"
	case *tg.StorageFileMov:
		return "video/quicktime"
	case *tg.StorageFileMp4:
		return "video/mp4"
	case *tg.StorageFileWebp:
		return "image/webp"
	default:
		return ""
	}
}

// DownloadFileLocation downloads the file at the given location into memory
// and detects its MIME type.
func DownloadFileLocation(ctx context.Context, client downloader.Client, loc tg.InputFileLocationClass) (data []byte, mimeType string, err error) {
	var buf bytes.Buffer
	storageFileType, err := downloader.NewDownloader().Download(client, loc).Stream(ctx, &buf)
	if err != nil {
		return nil, "", err
	}
	mimeType = mimeTypeFromStorageFileType(storageFileType)
	if mimeType == "" {
		mimeType = http.DetectContentType(buf.Bytes())
	}
	return buf.Bytes(), mimeType, nil
}

// DownloadDocument downloads a document into memory.
func DownloadDocument(ctx context.Context, client downloader.Client, document *tg.Document) ([]byte, error) {
	data, _, err := DownloadFileLocation(ctx, client, &tg.InputDocumentFileLocation{
		ID:            document.GetID(),
		AccessHash:    document.GetAccessHash(),
		FileReference: document.GetFileReference(),
	})
	return data, err
}

// DownloadPhoto downloads the largest available size of a photo into memory.
func DownloadPhoto(ctx context.Context, client downloader.Client, photo *tg.Photo) (data []byte, width, height int, mimeType string, err error) {
	var largest tg.PhotoSizeClass
	width, height, _, largest = GetLargestPhotoSize(photo.GetSizes())
	data, mimeType, err = DownloadFileLocation(ctx, client, &tg.InputPhotoFileLocation{
		ID:            photo.GetID(),
		AccessHash:    photo.GetAccessHash(),
		FileReference: photo.GetFileReference(),
		ThumbSize:     largest.GetType(),
	})
	return
}

// DownloadPhotoMedia downloads the photo inside a message media into memory.
func DownloadPhotoMedia(ctx context.Context, client downloader.Client, media *tg.MessageMediaPhoto) (data []byte, width, height int, mimeType string, err error) {
	p, ok := media.GetPhoto()
	if !ok {
		return nil, 0, 0, "", fmt.Errorf("photo message sent without a photo")
	}
	photo, ok := p.(*tg.Photo)
	if !ok {
		return nil, 0, 0, "", fmt.Errorf("unrecognized photo type %T", p)
	}
	return DownloadPhoto(ctx, client, photo)
}
