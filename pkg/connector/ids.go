package connector

import (
	"github.com/gotd/td/tg"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
)

func (t *TelegramClient) makePortalKeyFromPeer(peer tg.PeerClass) networkid.PortalKey {
	return ids.MakePortalKey(peer, t.loginID)
}

func (t *TelegramClient) makePortalKeyFromID(peerType ids.PeerType, chatID int64) networkid.PortalKey {
	return peerType.AsPortalKey(chatID, t.loginID)
}

// getPeerSender converts an update's from_id into an event sender. Channels
// can post as themselves in megagroups, those get the channel's ghost.
func (t *TelegramClient) getPeerSender(peer tg.PeerClass) bridgev2.EventSender {
	switch v := peer.(type) {
	case *tg.PeerUser:
		return t.senderForUserID(v.UserID)
	case *tg.PeerChannel:
		return bridgev2.EventSender{Sender: ids.MakeChannelUserID(v.ChannelID)}
	default:
		return bridgev2.EventSender{}
	}
}
