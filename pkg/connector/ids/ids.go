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

// Package ids converts between Telegram identifiers and the stable string
// forms used as bridge database keys.
package ids

import (
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/gotd/td/tg"
)

const channelUserPrefix = "channel-"

func MakeUserID(userID int64) networkid.UserID {
	return networkid.UserID(strconv.FormatInt(userID, 10))
}

// MakeChannelUserID creates the ghost user ID used when a broadcast channel
// itself is the sender of a message.
func MakeChannelUserID(channelID int64) networkid.UserID {
	return networkid.UserID(channelUserPrefix + strconv.FormatInt(channelID, 10))
}

func ParseUserID(userID networkid.UserID) (PeerType, int64, error) {
	raw := string(userID)
	peerType := PeerTypeUser
	if trimmed, ok := strings.CutPrefix(raw, channelUserPrefix); ok {
		peerType = PeerTypeChannel
		raw = trimmed
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return peerType, id, err
}

func MakeUserLoginID(userID int64) networkid.UserLoginID {
	return networkid.UserLoginID(strconv.FormatInt(userID, 10))
}

func ParseUserLoginID(loginID networkid.UserLoginID) (int64, error) {
	return strconv.ParseInt(string(loginID), 10, 64)
}

// MakeMessageID creates the bridge message ID for a message in the given
// chat. Channel message IDs are prefixed with the channel ID because message
// IDs are only unique per channel, everything else shares one ID space.
// The chat may be given as a portal key, a raw peer, or a channel ID.
func MakeMessageID(chat any, messageID int) networkid.MessageID {
	var channelID int64
	switch typed := chat.(type) {
	case networkid.PortalKey:
		peerType, chatID, _ := ParsePortalID(typed.ID)
		if peerType == PeerTypeChannel {
			channelID = chatID
		}
	case *tg.PeerChannel:
		channelID = typed.ChannelID
	case int64:
		channelID = typed
	case *tg.PeerUser, *tg.PeerChat, nil:
		// not in a channel
	default:
		panic(fmt.Errorf("unexpected chat type %T", chat))
	}
	if channelID != 0 {
		return networkid.MessageID(fmt.Sprintf("%d.%d", channelID, messageID))
	}
	return networkid.MessageID(strconv.Itoa(messageID))
}

func ParseMessageID(messageID networkid.MessageID) (channelID int64, id int, err error) {
	rawChannel, rawID, isChannel := strings.Cut(string(messageID), ".")
	if !isChannel {
		id, err = strconv.Atoi(rawChannel)
		if err != nil {
			err = fmt.Errorf("failed to parse message ID: %w", err)
		}
		return
	}
	channelID, err = strconv.ParseInt(rawChannel, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse channel ID in message ID: %w", err)
	}
	id, err = strconv.Atoi(rawID)
	if err != nil {
		err = fmt.Errorf("failed to parse message ID: %w", err)
	}
	return
}

func GetMessageIDFromMessage(message tg.MessageClass) networkid.MessageID {
	var peer tg.PeerClass
	switch msg := message.(type) {
	case *tg.Message:
		peer = msg.GetPeerID()
	case *tg.MessageService:
		peer = msg.GetPeerID()
	case *tg.MessageEmpty:
		peer, _ = msg.GetPeerID()
	default:
		panic(fmt.Errorf("unexpected message class %T", message))
	}
	return MakeMessageID(peer, message.GetID())
}

func MakePaginationCursorID(messageID int) networkid.PaginationCursor {
	return networkid.PaginationCursor(strconv.Itoa(messageID))
}

func MakeAvatarID(photoID int64) networkid.AvatarID {
	return networkid.AvatarID(strconv.FormatInt(photoID, 10))
}

// Emoji IDs are either a custom emoji document ID (all digits) or a plain
// unicode emoji (anything else).

func MakeEmojiIDFromDocumentID(documentID int64) networkid.EmojiID {
	return networkid.EmojiID(strconv.FormatInt(documentID, 10))
}

func MakeEmojiIDFromEmoticon(emoticon string) networkid.EmojiID {
	return networkid.EmojiID(emoticon)
}

func ParseEmojiID(emojiID networkid.EmojiID) (documentID int64, emoji string, err error) {
	raw := string(emojiID)
	if isAllDigits(raw) {
		documentID, err = strconv.ParseInt(raw, 10, 64)
	} else {
		emoji = raw
	}
	return
}

func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
