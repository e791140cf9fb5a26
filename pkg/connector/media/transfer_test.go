package media

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
)

func TestGetLocationID(t *testing.T) {
	assert.Equal(t, "123", getLocationID(&tg.Document{ID: 123}))
	assert.Equal(t, "123-x", getLocationID(&tg.InputDocumentFileLocation{ID: 123, ThumbSize: "x"}))
	assert.Equal(t, "456-m", getLocationID(&tg.InputPhotoFileLocation{ID: 456, ThumbSize: "m"}))
	assert.Equal(t, "7-8", getLocationID(&tg.InputFileLocation{VolumeID: 7, LocalID: 8}))
	assert.Equal(t, "789", getLocationID(&tg.InputPeerPhotoFileLocation{PhotoID: 789}))
	assert.Panics(t, func() { getLocationID("not a location") })
}

func TestGetLargestPhotoSize(t *testing.T) {
	width, height, size, largest := GetLargestPhotoSize([]tg.PhotoSizeClass{
		&tg.PhotoStrippedSize{Type: "i", Bytes: make([]byte, 10)},
		&tg.PhotoSize{Type: "m", W: 320, H: 240, Size: 1000},
		&tg.PhotoSize{Type: "y", W: 1280, H: 960, Size: 60000},
		&tg.PhotoCachedSize{Type: "s", W: 90, H: 67, Bytes: make([]byte, 100)},
	})
	assert.Equal(t, 1280, width)
	assert.Equal(t, 960, height)
	assert.Equal(t, 60000, size)
	assert.Equal(t, "y", largest.GetType())

	assert.Panics(t, func() { GetLargestPhotoSize(nil) })
}
