package updates

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
)

// maximum number of difference slices followed in one recovery round
const maxDifferenceIterations = 20

// getDifference fetches everything the server has past our current
// (pts, qts, date) position and replays it through the handler. State is
// committed only after the replayed updates are handled, so a failure leaves
// the position unchanged and the next round replays.
func (s *internalState) getDifference(ctx context.Context) error {
	s.fetchingDifference = true
	defer func() { s.fetchingDifference = false }()
	for i := 0; i < maxDifferenceIterations; i++ {
		s.log.Debug().
			Int("pts", s.pts.state).Int("qts", s.qts.state).Int("date", s.date).
			Msg("Fetching difference")
		diff, err := s.api.UpdatesGetDifference(ctx, &tg.UpdatesGetDifferenceRequest{
			Pts:  s.pts.state,
			Qts:  s.qts.state,
			Date: s.date,
		})
		if err != nil {
			return fmt.Errorf("failed to get difference: %w", err)
		}

		switch d := diff.(type) {
		case *tg.UpdatesDifferenceEmpty:
			return s.commitDateSeq(ctx, d.Date, d.Seq)
		case *tg.UpdatesDifference:
			if err = s.applyDifference(ctx, d.NewMessages, d.NewEncryptedMessages, d.OtherUpdates, d.Users, d.Chats); err != nil {
				return err
			}
			return s.commitState(ctx, stateFromRemote(&d.State))
		case *tg.UpdatesDifferenceSlice:
			if err = s.applyDifference(ctx, d.NewMessages, d.NewEncryptedMessages, d.OtherUpdates, d.Users, d.Chats); err != nil {
				return err
			}
			if err = s.commitState(ctx, stateFromRemote(&d.IntermediateState)); err != nil {
				return err
			}
			// more to fetch, loop with the intermediate state
		case *tg.UpdatesDifferenceTooLong:
			// The backlog is too large to replay. Adopt the server pts and
			// leave recovering the content to chat resync.
			s.log.Warn().Int("pts", d.Pts).Msg("Difference too long, adopting server pts")
			if err = s.cfg.Storage.SetPts(ctx, s.selfID, d.Pts); err != nil {
				return fmt.Errorf("failed to save pts: %w", err)
			}
			s.pts.state = d.Pts
			return nil
		default:
			return fmt.Errorf("unexpected difference class %T", diff)
		}
	}
	return fmt.Errorf("difference did not converge after %d slices", maxDifferenceIterations)
}

func (s *internalState) applyDifference(
	ctx context.Context,
	newMessages []tg.MessageClass,
	newEncryptedMessages []tg.EncryptedMessageClass,
	otherUpdates []tg.UpdateClass,
	users []tg.UserClass,
	chats []tg.ChatClass,
) error {
	ents := entities{Users: users, Chats: chats}
	s.captureAccessHashes(ctx, ents)

	upds := make([]tg.UpdateClass, 0, len(newMessages)+len(newEncryptedMessages)+len(otherUpdates))
	for _, msg := range newMessages {
		upds = append(upds, &tg.UpdateNewMessage{Message: msg})
	}
	for _, msg := range newEncryptedMessages {
		upds = append(upds, &tg.UpdateNewEncryptedMessage{Message: msg})
	}
	for _, u := range otherUpdates {
		switch upd := u.(type) {
		case *tg.UpdateChannelTooLong:
			if err := s.recoverChannelGap(ctx, upd.ChannelID); err != nil {
				return err
			}
			continue
		}
		if channelID, pts, ptsCount, ok, err := channelPts(u); ok {
			if err != nil {
				s.log.Debug().Err(err).Msg("Skipping invalid channel update in difference")
				continue
			}
			if err = s.handleChannel(ctx, channelID, pts, ptsCount, u, ents); err != nil {
				return err
			}
			continue
		}
		upds = append(upds, u)
	}
	if len(upds) == 0 {
		return nil
	}
	return s.emit(ctx, upds, ents)
}

func (s *internalState) commitState(ctx context.Context, state State) error {
	if err := s.cfg.Storage.SetState(ctx, s.selfID, state); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	s.pts.state = state.Pts
	s.qts.state = state.Qts
	s.seq.state = state.Seq
	s.date = state.Date
	return nil
}

// recoverChannelGap fills a gap in one channel box. If we don't know the
// channel's access hash yet, a full difference is fetched first: its chats
// carry the hash, and dropping the update instead would lose the only hint
// that the channel exists.
func (s *internalState) recoverChannelGap(ctx context.Context, channelID int64) error {
	log := s.log.With().Int64("channel_id", channelID).Logger()
	hash, found, err := s.cfg.AccessHasher.GetChannelAccessHash(ctx, s.selfID, channelID)
	if err != nil {
		return fmt.Errorf("failed to get channel access hash: %w", err)
	} else if !found {
		if s.fetchingDifference {
			// Already inside a difference replay and it still didn't carry
			// the hash. Fetching another difference from here would replay
			// (and re-emit) the same uncommitted range again.
			log.Warn().Msg("No access hash for gapped channel in difference, requesting resync")
			s.notifyChannelTooLong(channelID)
			return nil
		}
		log.Debug().Msg("No access hash for gapped channel, fetching full difference")
		if err = s.getDifference(ctx); err != nil {
			return err
		}
		hash, found, err = s.cfg.AccessHasher.GetChannelAccessHash(ctx, s.selfID, channelID)
		if err != nil {
			return fmt.Errorf("failed to get channel access hash: %w", err)
		} else if !found {
			log.Warn().Msg("Still no access hash for gapped channel, requesting resync")
			s.notifyChannelTooLong(channelID)
			return nil
		}
	}

	ch, known, err := s.channelBox(ctx, channelID)
	if err != nil {
		return err
	} else if !known || ch.state == 0 {
		// No local position to diff from, let the bridge resync the chat.
		s.notifyChannelTooLong(channelID)
		return nil
	}

	inputChannel := &tg.InputChannel{ChannelID: channelID, AccessHash: hash}
	for i := 0; i < maxDifferenceIterations; i++ {
		log.Debug().Int("pts", ch.state).Msg("Fetching channel difference")
		diff, err := s.api.UpdatesGetChannelDifference(ctx, &tg.UpdatesGetChannelDifferenceRequest{
			Channel: inputChannel,
			Filter:  &tg.ChannelMessagesFilterEmpty{},
			Pts:     ch.state,
			Limit:   differenceLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to get channel difference: %w", err)
		}

		switch d := diff.(type) {
		case *tg.UpdatesChannelDifferenceEmpty:
			if err = s.commitChannelPts(ctx, ch, channelID, d.Pts); err != nil {
				return err
			}
			return nil
		case *tg.UpdatesChannelDifference:
			ents := entities{Users: d.Users, Chats: d.Chats}
			s.captureAccessHashes(ctx, ents)
			upds := make([]tg.UpdateClass, 0, len(d.NewMessages)+len(d.OtherUpdates))
			for _, msg := range d.NewMessages {
				upds = append(upds, &tg.UpdateNewChannelMessage{Message: msg})
			}
			upds = append(upds, d.OtherUpdates...)
			if len(upds) > 0 {
				if err = s.emit(ctx, upds, ents); err != nil {
					return err
				}
			}
			if err = s.commitChannelPts(ctx, ch, channelID, d.Pts); err != nil {
				return err
			}
			if d.Final {
				return nil
			}
			// more slices to fetch
		case *tg.UpdatesChannelDifferenceTooLong:
			log.Warn().Msg("Channel difference too long, requesting resync")
			if dialog, ok := d.Dialog.(*tg.Dialog); ok {
				if pts, ok := dialog.GetPts(); ok {
					if err = s.commitChannelPts(ctx, ch, channelID, pts); err != nil {
						return err
					}
				}
			}
			s.notifyChannelTooLong(channelID)
			return nil
		default:
			return fmt.Errorf("unexpected channel difference class %T", diff)
		}
	}
	return fmt.Errorf("channel difference did not converge after %d slices", maxDifferenceIterations)
}

func (s *internalState) commitChannelPts(ctx context.Context, ch *box, channelID int64, pts int) error {
	if err := s.cfg.Storage.SetChannelPts(ctx, s.selfID, channelID, pts); err != nil {
		return fmt.Errorf("failed to save channel pts: %w", err)
	}
	ch.state = pts
	return nil
}

func (s *internalState) notifyChannelTooLong(channelID int64) {
	if s.cfg.OnChannelTooLong != nil {
		s.cfg.OnChannelTooLong(channelID)
	}
}
