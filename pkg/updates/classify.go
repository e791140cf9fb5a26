package updates

import (
	"fmt"

	"github.com/gotd/td/tg"
)

// entities accumulates the users and chats attached to update envelopes so
// they can be re-attached to whatever is emitted downstream.
type entities struct {
	Users []tg.UserClass
	Chats []tg.ChatClass
}

func (e *entities) merge(other entities) {
	e.Users = append(e.Users, other.Users...)
	e.Chats = append(e.Chats, other.Chats...)
}

// commonPts extracts the (pts, pts_count) pair from updates belonging to the
// common message box. Channel updates are deliberately excluded, they have
// their own per-channel box.
func commonPts(u tg.UpdateClass) (pts, ptsCount int, ok bool) {
	switch upd := u.(type) {
	case *tg.UpdateNewMessage:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateDeleteMessages:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateReadHistoryInbox:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateReadHistoryOutbox:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateWebPage:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateReadMessagesContents:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateEditMessage:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdateFolderPeers:
		return upd.Pts, upd.PtsCount, true
	case *tg.UpdatePinnedMessages:
		return upd.Pts, upd.PtsCount, true
	default:
		return 0, 0, false
	}
}

// channelPts extracts the channel ID and (pts, pts_count) pair from updates
// belonging to a channel box. The error is non-nil for malformed updates
// (e.g. a channel message wrapping a non-channel peer), which callers should
// log and skip.
func channelPts(u tg.UpdateClass) (channelID int64, pts, ptsCount int, ok bool, err error) {
	switch upd := u.(type) {
	case *tg.UpdateNewChannelMessage:
		channelID, err = channelIDFromMessage(upd.Message)
		return channelID, upd.Pts, upd.PtsCount, true, err
	case *tg.UpdateEditChannelMessage:
		channelID, err = channelIDFromMessage(upd.Message)
		return channelID, upd.Pts, upd.PtsCount, true, err
	case *tg.UpdateDeleteChannelMessages:
		return upd.ChannelID, upd.Pts, upd.PtsCount, true, nil
	case *tg.UpdatePinnedChannelMessages:
		return upd.ChannelID, upd.Pts, upd.PtsCount, true, nil
	case *tg.UpdateChannelWebPage:
		return upd.ChannelID, upd.Pts, upd.PtsCount, true, nil
	case *tg.UpdateReadChannelInbox:
		// carries pts but no pts_count, it doesn't advance the box
		return 0, 0, 0, false, nil
	default:
		return 0, 0, 0, false, nil
	}
}

func channelIDFromMessage(msg tg.MessageClass) (int64, error) {
	var peer tg.PeerClass
	switch typed := msg.(type) {
	case *tg.Message:
		peer = typed.PeerID
	case *tg.MessageService:
		peer = typed.PeerID
	case *tg.MessageEmpty:
		var havePeer bool
		peer, havePeer = typed.GetPeerID()
		if !havePeer {
			return 0, fmt.Errorf("channel update with peerless empty message")
		}
	}
	channel, ok := peer.(*tg.PeerChannel)
	if !ok {
		return 0, fmt.Errorf("channel update with non-channel peer %T", peer)
	}
	return channel.ChannelID, nil
}

func qtsValue(u tg.UpdateClass) (qts int, ok bool) {
	switch upd := u.(type) {
	case *tg.UpdateNewEncryptedMessage:
		return upd.Qts, true
	default:
		return 0, false
	}
}
