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

// Package updates turns the raw Telegram update stream into an ordered,
// deduplicated stream with gaps filled from updates.getDifference and
// updates.getChannelDifference.
//
// Telegram updates carry several independent sequence counters: pts for the
// common message box, a per-channel pts for each channel box, qts for the
// secret chat box, and seq/date for combined update envelopes. The manager
// persists all of them through [StateStorage] and only advances a counter
// after the wrapped handler has successfully consumed the corresponding
// updates, so a crash replays instead of losing updates.
package updates

import (
	"context"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

// State is the persisted position of a login in the common update sequence.
type State struct {
	Pts, Qts, Date, Seq int
}

func stateFromRemote(remote *tg.UpdatesState) State {
	return State{
		Pts:  remote.Pts,
		Qts:  remote.Qts,
		Date: remote.Date,
		Seq:  remote.Seq,
	}
}

// StateStorage persists update sequence state per Telegram user. The single
// column setters must fail if no state row exists yet.
type StateStorage interface {
	GetState(ctx context.Context, userID int64) (state State, found bool, err error)
	SetState(ctx context.Context, userID int64, state State) error
	SetPts(ctx context.Context, userID int64, pts int) error
	SetQts(ctx context.Context, userID int64, qts int) error
	SetDate(ctx context.Context, userID int64, date int) error
	SetSeq(ctx context.Context, userID int64, seq int) error
	SetDateSeq(ctx context.Context, userID int64, date, seq int) error
	GetChannelPts(ctx context.Context, userID, channelID int64) (pts int, found bool, err error)
	SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error
	ForEachChannels(ctx context.Context, userID int64, fn func(ctx context.Context, channelID int64, pts int) error) error
}

// ChannelAccessHasher persists channel access hashes per Telegram user.
// Access hashes are not fungible across accounts, hence the userID scope.
type ChannelAccessHasher interface {
	GetChannelAccessHash(ctx context.Context, userID, channelID int64) (hash int64, found bool, err error)
	SetChannelAccessHash(ctx context.Context, userID, channelID, hash int64) error
}

// API is the subset of the Telegram RPC surface the manager needs.
// *tg.Client implements it.
type API interface {
	UpdatesGetState(ctx context.Context) (*tg.UpdatesState, error)
	UpdatesGetDifference(ctx context.Context, request *tg.UpdatesGetDifferenceRequest) (tg.UpdatesDifferenceClass, error)
	UpdatesGetChannelDifference(ctx context.Context, request *tg.UpdatesGetChannelDifferenceRequest) (tg.UpdatesChannelDifferenceClass, error)
}

// Handler receives ordered, hydrated updates. The Users and Chats fields of
// the envelope always contain the entities known for the contained updates.
// Returning an error prevents the corresponding sequence state from being
// committed.
type Handler interface {
	Handle(ctx context.Context, u tg.UpdatesClass) error
}

// Config configures a Manager.
type Config struct {
	Handler      Handler
	Storage      StateStorage
	AccessHasher ChannelAccessHasher

	// OnChannelTooLong is called when a channel gap is too large to fill
	// with getChannelDifference, so the channel has to be resynced from
	// scratch (history fetch). May be nil.
	OnChannelTooLong func(channelID int64)

	Logger zerolog.Logger
}

const (
	// difference requests are capped so a single response stays reasonable;
	// slices are followed until the final state is reached.
	differenceLimit = 1000

	// updates channels are buffered to let the MTProto read loop continue
	// while the manager catches up.
	queueSize = 128
)
