package updates

import (
	"github.com/gotd/td/tg"
)

// Short message envelopes strip the tg.Message wrapper to save bytes on the
// wire. Reconstruct a full message so downstream only ever sees
// UpdateNewMessage.

func shortMessageToCombined(u *tg.UpdateShortMessage) *tg.UpdatesCombined {
	msg := &tg.Message{
		Out:         u.Out,
		Mentioned:   u.Mentioned,
		MediaUnread: u.MediaUnread,
		Silent:      u.Silent,
		ID:          u.ID,
		PeerID:      &tg.PeerUser{UserID: u.UserID},
		Message:     u.Message,
		Date:        u.Date,
	}
	if !u.Out {
		msg.SetFromID(&tg.PeerUser{UserID: u.UserID})
	}
	copyShortFields(msg, u)
	return wrapShortMessage(msg, u.Pts, u.PtsCount, u.Date)
}

func shortChatMessageToCombined(u *tg.UpdateShortChatMessage) *tg.UpdatesCombined {
	msg := &tg.Message{
		Out:         u.Out,
		Mentioned:   u.Mentioned,
		MediaUnread: u.MediaUnread,
		Silent:      u.Silent,
		ID:          u.ID,
		PeerID:      &tg.PeerChat{ChatID: u.ChatID},
		Message:     u.Message,
		Date:        u.Date,
	}
	msg.SetFromID(&tg.PeerUser{UserID: u.FromID})
	copyShortFields(msg, u)
	return wrapShortMessage(msg, u.Pts, u.PtsCount, u.Date)
}

type shortMessage interface {
	GetFwdFrom() (tg.MessageFwdHeader, bool)
	GetViaBotID() (int64, bool)
	GetReplyTo() (tg.MessageReplyHeaderClass, bool)
	GetEntities() ([]tg.MessageEntityClass, bool)
	GetTTLPeriod() (int, bool)
}

func copyShortFields(msg *tg.Message, u shortMessage) {
	if fwd, ok := u.GetFwdFrom(); ok {
		msg.SetFwdFrom(fwd)
	}
	if viaBotID, ok := u.GetViaBotID(); ok {
		msg.SetViaBotID(viaBotID)
	}
	if replyTo, ok := u.GetReplyTo(); ok {
		msg.SetReplyTo(replyTo)
	}
	if ents, ok := u.GetEntities(); ok {
		msg.SetEntities(ents)
	}
	if ttl, ok := u.GetTTLPeriod(); ok {
		msg.SetTTLPeriod(ttl)
	}
}

func wrapShortMessage(msg *tg.Message, pts, ptsCount, date int) *tg.UpdatesCombined {
	return &tg.UpdatesCombined{
		Updates: []tg.UpdateClass{
			&tg.UpdateNewMessage{Message: msg, Pts: pts, PtsCount: ptsCount},
		},
		Date: date,
	}
}
