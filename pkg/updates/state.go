package updates

import (
	"context"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

type applyResult int

const (
	resultApply applyResult = iota
	resultIgnore
	resultGap
)

// box tracks the local value of one sequence counter. An update advancing
// the counter from exactly the local value applies, anything older is a
// duplicate and anything newer means updates were missed.
type box struct {
	state int
}

func (b *box) classify(value, count int) applyResult {
	switch {
	case b.state+count == value:
		return resultApply
	case value <= b.state:
		return resultIgnore
	default:
		return resultGap
	}
}

type job struct {
	updates tg.UpdatesClass
	done    chan error
}

type internalState struct {
	cfg    Config
	api    API
	selfID int64
	log    zerolog.Logger

	pts, qts, seq box
	date          int
	channels      map[int64]*box

	// set while a full difference is being replayed, so channel gap
	// recovery doesn't request another one from inside the replay
	fetchingDifference bool

	queue chan job
}

func newInternalState(cfg Config, api API, selfID int64, state State) *internalState {
	return &internalState{
		cfg:    cfg,
		api:    api,
		selfID: selfID,
		log:    cfg.Logger.With().Int64("telegram_user_id", selfID).Logger(),

		pts:      box{state.Pts},
		qts:      box{state.Qts},
		seq:      box{state.Seq},
		date:     state.Date,
		channels: map[int64]*box{},

		queue: make(chan job, queueSize),
	}
}

func (s *internalState) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-s.queue:
			err := s.handleUpdates(ctx, j.updates)
			if j.done != nil {
				j.done <- err
			} else if err != nil && ctx.Err() == nil {
				s.log.Err(err).Msg("Failed to handle updates")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (s *internalState) push(ctx context.Context, u tg.UpdatesClass) error {
	select {
	case s.queue <- job{updates: u}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *internalState) handleUpdates(ctx context.Context, u tg.UpdatesClass) error {
	switch upd := u.(type) {
	case *tg.UpdatesTooLong:
		return s.getDifference(ctx)
	case *tg.UpdateShort:
		return s.applyCombined(ctx, &tg.UpdatesCombined{
			Updates: []tg.UpdateClass{upd.Update},
			Date:    upd.Date,
		})
	case *tg.UpdateShortMessage:
		return s.applyCombined(ctx, shortMessageToCombined(upd))
	case *tg.UpdateShortChatMessage:
		return s.applyCombined(ctx, shortChatMessageToCombined(upd))
	case *tg.UpdateShortSentMessage:
		// Only produced as an RPC result and fed back here for sequence
		// accounting. There is no message payload to emit.
		return s.advancePts(ctx, upd.Pts, upd.PtsCount)
	case *tg.Updates:
		return s.handleSeq(ctx, &tg.UpdatesCombined{
			Updates:  upd.Updates,
			Users:    upd.Users,
			Chats:    upd.Chats,
			Date:     upd.Date,
			Seq:      upd.Seq,
			SeqStart: upd.Seq,
		})
	case *tg.UpdatesCombined:
		return s.handleSeq(ctx, upd)
	default:
		return fmt.Errorf("unexpected updates class %T", u)
	}
}

func (s *internalState) handleSeq(ctx context.Context, comb *tg.UpdatesCombined) error {
	if comb.Seq == 0 {
		return s.applyCombined(ctx, comb)
	}
	seqStart := comb.SeqStart
	if seqStart == 0 {
		seqStart = comb.Seq
	}
	switch s.seq.classify(seqStart, 1) {
	case resultIgnore:
		s.log.Debug().
			Int("seq_start", seqStart).
			Int("local_seq", s.seq.state).
			Msg("Ignoring duplicate combined update")
		return nil
	case resultGap:
		s.log.Debug().
			Int("seq_start", seqStart).
			Int("local_seq", s.seq.state).
			Msg("Seq gap, fetching difference")
		return s.getDifference(ctx)
	default:
		return s.applyCombined(ctx, comb)
	}
}

// applyCombined walks one update envelope: sequence-bearing updates go
// through their respective boxes, everything else is emitted as a batch at
// the end, then date/seq are committed.
func (s *internalState) applyCombined(ctx context.Context, comb *tg.UpdatesCombined) error {
	ents := entities{Users: comb.Users, Chats: comb.Chats}
	s.captureAccessHashes(ctx, ents)
	sortByPts(comb.Updates)

	var ptsChanged bool
	var plain []tg.UpdateClass
	for _, u := range comb.Updates {
		switch upd := u.(type) {
		case *tg.UpdatePtsChanged:
			ptsChanged = true
			continue
		case *tg.UpdateChannelTooLong:
			if err := s.recoverChannelGap(ctx, upd.ChannelID); err != nil {
				return err
			}
			continue
		}

		if channelID, pts, ptsCount, ok, err := channelPts(u); ok {
			if err != nil {
				s.log.Debug().Err(err).Msg("Skipping invalid channel update")
				continue
			}
			if err = s.handleChannel(ctx, channelID, pts, ptsCount, u, ents); err != nil {
				return err
			}
			continue
		}
		if pts, ptsCount, ok := commonPts(u); ok {
			if err := s.handlePts(ctx, pts, ptsCount, u, ents); err != nil {
				return err
			}
			continue
		}
		if qts, ok := qtsValue(u); ok {
			if err := s.handleQts(ctx, qts, u, ents); err != nil {
				return err
			}
			continue
		}
		plain = append(plain, u)
	}

	if len(plain) > 0 {
		if err := s.emit(ctx, plain, ents); err != nil {
			return err
		}
	}

	if err := s.commitDateSeq(ctx, comb.Date, comb.Seq); err != nil {
		return err
	}

	if ptsChanged {
		return s.getDifference(ctx)
	}
	return nil
}

func (s *internalState) commitDateSeq(ctx context.Context, date, seq int) error {
	setDate, setSeq := date > s.date, seq > s.seq.state
	switch {
	case setDate && setSeq:
		if err := s.cfg.Storage.SetDateSeq(ctx, s.selfID, date, seq); err != nil {
			return fmt.Errorf("failed to save date & seq: %w", err)
		}
		s.date, s.seq.state = date, seq
	case setDate:
		if err := s.cfg.Storage.SetDate(ctx, s.selfID, date); err != nil {
			return fmt.Errorf("failed to save date: %w", err)
		}
		s.date = date
	case setSeq:
		if err := s.cfg.Storage.SetSeq(ctx, s.selfID, seq); err != nil {
			return fmt.Errorf("failed to save seq: %w", err)
		}
		s.seq.state = seq
	}
	return nil
}

func (s *internalState) handlePts(ctx context.Context, pts, ptsCount int, u tg.UpdateClass, ents entities) error {
	switch s.pts.classify(pts, ptsCount) {
	case resultIgnore:
		s.log.Debug().
			Int("pts", pts).Int("pts_count", ptsCount).Int("local_pts", s.pts.state).
			Msg("Ignoring duplicate pts update")
		return nil
	case resultGap:
		s.log.Debug().
			Int("pts", pts).Int("pts_count", ptsCount).Int("local_pts", s.pts.state).
			Msg("Pts gap, fetching difference")
		return s.getDifference(ctx)
	default:
		if err := s.emit(ctx, []tg.UpdateClass{u}, ents); err != nil {
			return err
		}
		if err := s.cfg.Storage.SetPts(ctx, s.selfID, pts); err != nil {
			return fmt.Errorf("failed to save pts: %w", err)
		}
		s.pts.state = pts
		return nil
	}
}

// advancePts moves the common box forward without emitting anything. Used
// for sent-message confirmations, which have no payload.
func (s *internalState) advancePts(ctx context.Context, pts, ptsCount int) error {
	switch s.pts.classify(pts, ptsCount) {
	case resultIgnore:
		return nil
	case resultGap:
		return s.getDifference(ctx)
	default:
		if err := s.cfg.Storage.SetPts(ctx, s.selfID, pts); err != nil {
			return fmt.Errorf("failed to save pts: %w", err)
		}
		s.pts.state = pts
		return nil
	}
}

func (s *internalState) handleQts(ctx context.Context, qts int, u tg.UpdateClass, ents entities) error {
	switch s.qts.classify(qts, 1) {
	case resultIgnore:
		s.log.Debug().Int("qts", qts).Int("local_qts", s.qts.state).
			Msg("Ignoring duplicate qts update")
		return nil
	case resultGap:
		s.log.Debug().Int("qts", qts).Int("local_qts", s.qts.state).
			Msg("Qts gap, fetching difference")
		return s.getDifference(ctx)
	default:
		if err := s.emit(ctx, []tg.UpdateClass{u}, ents); err != nil {
			return err
		}
		if err := s.cfg.Storage.SetQts(ctx, s.selfID, qts); err != nil {
			return fmt.Errorf("failed to save qts: %w", err)
		}
		s.qts.state = qts
		return nil
	}
}

func (s *internalState) handleChannel(ctx context.Context, channelID int64, pts, ptsCount int, u tg.UpdateClass, ents entities) error {
	log := s.log.With().Int64("channel_id", channelID).Logger()
	ch, known, err := s.channelBox(ctx, channelID)
	if err != nil {
		return err
	}
	if !known {
		// First update we see for this channel: adopt its pts as the local
		// state. History before it is backfill's problem, not a gap.
		if err = s.emit(ctx, []tg.UpdateClass{u}, ents); err != nil {
			return err
		}
		if err = s.cfg.Storage.SetChannelPts(ctx, s.selfID, channelID, pts); err != nil {
			return fmt.Errorf("failed to save initial channel pts: %w", err)
		}
		ch.state = pts
		return nil
	}

	switch ch.classify(pts, ptsCount) {
	case resultIgnore:
		log.Debug().
			Int("pts", pts).Int("pts_count", ptsCount).Int("local_pts", ch.state).
			Msg("Ignoring duplicate channel update")
		return nil
	case resultGap:
		log.Debug().
			Int("pts", pts).Int("pts_count", ptsCount).Int("local_pts", ch.state).
			Msg("Channel pts gap, fetching channel difference")
		return s.recoverChannelGap(ctx, channelID)
	default:
		if err = s.emit(ctx, []tg.UpdateClass{u}, ents); err != nil {
			return err
		}
		if err = s.cfg.Storage.SetChannelPts(ctx, s.selfID, channelID, pts); err != nil {
			return fmt.Errorf("failed to save channel pts: %w", err)
		}
		ch.state = pts
		return nil
	}
}

func (s *internalState) channelBox(ctx context.Context, channelID int64) (*box, bool, error) {
	if ch, ok := s.channels[channelID]; ok {
		return ch, true, nil
	}
	pts, found, err := s.cfg.Storage.GetChannelPts(ctx, s.selfID, channelID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load channel pts: %w", err)
	}
	ch := &box{pts}
	s.channels[channelID] = ch
	return ch, found, nil
}

func (s *internalState) emit(ctx context.Context, upds []tg.UpdateClass, ents entities) error {
	return s.cfg.Handler.Handle(ctx, &tg.Updates{
		Updates: upds,
		Users:   ents.Users,
		Chats:   ents.Chats,
	})
}

// captureAccessHashes persists channel access hashes seen in update
// entities. This has to happen before the updates are emitted, so consumers
// can immediately address the peers they're told about.
func (s *internalState) captureAccessHashes(ctx context.Context, ents entities) {
	for _, chat := range ents.Chats {
		channel, ok := chat.(*tg.Channel)
		if !ok || channel.Min {
			continue
		}
		hash, ok := channel.GetAccessHash()
		if !ok {
			continue
		}
		if err := s.cfg.AccessHasher.SetChannelAccessHash(ctx, s.selfID, channel.ID, hash); err != nil {
			s.log.Warn().Err(err).Int64("channel_id", channel.ID).
				Msg("Failed to save channel access hash")
		}
	}
}

// sortByPts orders pts-bearing updates ascending so a single envelope
// containing several box advances applies cleanly. Updates without pts keep
// their relative order at the front.
func sortByPts(upds []tg.UpdateClass) {
	sort.SliceStable(upds, func(i, j int) bool {
		iPts, _, iOk := commonPts(upds[i])
		jPts, _, jOk := commonPts(upds[j])
		if !iOk || !jOk {
			return !iOk && jOk
		}
		return iPts < jPts
	})
}
