package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"maunium.net/go/mautrix/bridgev2/networkid"
)

// DirectMediaInfo identifies a piece of Telegram media well enough to fetch
// it on demand. It is encoded into the media ID of direct media mxc URIs.
//
// Encoded layout (big endian):
//
//	byte    0      format version, currently 0
//	byte    1      peer type
//	bytes  2..9    chat ID (int64)
//	bytes 10..17   message ID (int64)
//	byte   18      1 if the ID refers to the thumbnail (optional)
//	bytes 19..26   Telegram media ID (int64, optional)
//
// The two optional fields were added later, so 18 and 19 byte IDs from older
// bridge versions still parse.
type DirectMediaInfo struct {
	PeerType        PeerType
	ChatID          int64
	MessageID       int64
	Thumbnail       bool
	TelegramMediaID int64
}

const directMediaVersion = 0x00

func (dmi DirectMediaInfo) AsMediaID() (networkid.MediaID, error) {
	out := make([]byte, 2, 27)
	out[0] = directMediaVersion
	out[1] = dmi.PeerType.AsByte()
	out = binary.BigEndian.AppendUint64(out, uint64(dmi.ChatID))
	out = binary.BigEndian.AppendUint64(out, uint64(dmi.MessageID))
	if dmi.Thumbnail {
		out = append(out, 0x01)
	} else {
		out = append(out, 0x00)
	}
	out = binary.BigEndian.AppendUint64(out, uint64(dmi.TelegramMediaID))
	return networkid.MediaID(out), nil
}

// HashMediaID returns a stable hash of a media ID, used as the avatar hash
// for direct media avatars where the actual file bytes are never seen.
func HashMediaID(mediaID networkid.MediaID) [32]byte {
	return sha256.Sum256(mediaID)
}

func ParseDirectMediaInfo(mediaID networkid.MediaID) (info DirectMediaInfo, err error) {
	if len(mediaID) == 0 {
		return info, fmt.Errorf("empty media ID")
	} else if mediaID[0] != directMediaVersion {
		return info, fmt.Errorf("unsupported media ID version %d", mediaID[0])
	}
	switch len(mediaID) {
	case 18, 19, 27:
	default:
		return info, fmt.Errorf("invalid media ID length %d", len(mediaID))
	}
	info.PeerType, err = PeerTypeFromByte(mediaID[1])
	if err != nil {
		return
	}
	info.ChatID = int64(binary.BigEndian.Uint64(mediaID[2:10]))
	info.MessageID = int64(binary.BigEndian.Uint64(mediaID[10:18]))
	if len(mediaID) > 18 {
		info.Thumbnail = mediaID[18] == 0x01
	}
	if len(mediaID) > 19 {
		info.TelegramMediaID = int64(binary.BigEndian.Uint64(mediaID[19:27]))
	}
	return
}
