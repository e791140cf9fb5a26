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

package ids

import (
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/gotd/td/tg"
)

// PeerType is the kind of Telegram peer a portal corresponds to.
type PeerType string

const (
	PeerTypeUser    PeerType = "user"
	PeerTypeChat    PeerType = "chat"
	PeerTypeChannel PeerType = "channel"
)

const (
	peerTypeByteUser    = 0x01
	peerTypeByteChat    = 0x02
	peerTypeByteChannel = 0x03
)

func PeerTypeFromByte(b byte) (PeerType, error) {
	switch b {
	case peerTypeByteUser:
		return PeerTypeUser, nil
	case peerTypeByteChat:
		return PeerTypeChat, nil
	case peerTypeByteChannel:
		return PeerTypeChannel, nil
	default:
		return "", fmt.Errorf("unknown peer type byte %d", b)
	}
}

func (pt PeerType) AsByte() byte {
	switch pt {
	case PeerTypeUser:
		return peerTypeByteUser
	case PeerTypeChat:
		return peerTypeByteChat
	case PeerTypeChannel:
		return peerTypeByteChannel
	default:
		panic(fmt.Errorf("unknown peer type %q", string(pt)))
	}
}

// AsPortalKey creates the portal key for the given chat ID. Portals for users
// and chats are scoped to the receiver login, channel portals are global.
func (pt PeerType) AsPortalKey(chatID int64, receiver networkid.UserLoginID) networkid.PortalKey {
	key := networkid.PortalKey{
		ID: networkid.PortalID(fmt.Sprintf("%s:%d", pt, chatID)),
	}
	if pt != PeerTypeChannel {
		key.Receiver = receiver
	}
	return key
}

func peerTypeAndID(peer tg.PeerClass) (PeerType, int64) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return PeerTypeUser, p.UserID
	case *tg.PeerChat:
		return PeerTypeChat, p.ChatID
	case *tg.PeerChannel:
		return PeerTypeChannel, p.ChannelID
	default:
		panic(fmt.Errorf("unknown peer class %T", peer))
	}
}

func GetChatID(peer tg.PeerClass) int64 {
	_, chatID := peerTypeAndID(peer)
	return chatID
}

// MakePortalKey creates the portal key for a raw Telegram peer. The receiver
// is only included for user and chat peers, see [PeerType.AsPortalKey].
func MakePortalKey(peer tg.PeerClass, receiver networkid.UserLoginID) networkid.PortalKey {
	peerType, chatID := peerTypeAndID(peer)
	return peerType.AsPortalKey(chatID, receiver)
}

func ParsePortalID(portalID networkid.PortalID) (pt PeerType, chatID int64, err error) {
	rawType, rawID, found := strings.Cut(string(portalID), ":")
	if !found {
		return "", 0, fmt.Errorf("no separator in portal ID %q", portalID)
	}
	switch pt = PeerType(rawType); pt {
	case PeerTypeUser, PeerTypeChat, PeerTypeChannel:
	default:
		return "", 0, fmt.Errorf("unknown peer type %q in portal ID", rawType)
	}
	chatID, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		err = fmt.Errorf("failed to parse chat ID in portal ID: %w", err)
	}
	return
}

// InputPeerFor converts a parsed portal ID back into an input peer. Access
// hashes have to be filled in by the caller for users and channels.
func (pt PeerType) InputPeerFor(chatID, accessHash int64) tg.InputPeerClass {
	switch pt {
	case PeerTypeUser:
		return &tg.InputPeerUser{UserID: chatID, AccessHash: accessHash}
	case PeerTypeChat:
		return &tg.InputPeerChat{ChatID: chatID}
	case PeerTypeChannel:
		return &tg.InputPeerChannel{ChannelID: chatID, AccessHash: accessHash}
	default:
		panic(fmt.Errorf("unknown peer type %q", string(pt)))
	}
}
