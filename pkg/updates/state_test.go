package updates

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	states   map[int64]State
	channels map[int64]map[int64]int
}

func newMemStorage() *memStorage {
	return &memStorage{
		states:   map[int64]State{},
		channels: map[int64]map[int64]int{},
	}
}

var _ StateStorage = (*memStorage)(nil)

func (m *memStorage) GetState(_ context.Context, userID int64) (State, bool, error) {
	state, ok := m.states[userID]
	return state, ok, nil
}

func (m *memStorage) SetState(_ context.Context, userID int64, state State) error {
	m.states[userID] = state
	return nil
}

func (m *memStorage) SetPts(_ context.Context, userID int64, pts int) error {
	state := m.states[userID]
	state.Pts = pts
	m.states[userID] = state
	return nil
}

func (m *memStorage) SetQts(_ context.Context, userID int64, qts int) error {
	state := m.states[userID]
	state.Qts = qts
	m.states[userID] = state
	return nil
}

func (m *memStorage) SetDate(_ context.Context, userID int64, date int) error {
	state := m.states[userID]
	state.Date = date
	m.states[userID] = state
	return nil
}

func (m *memStorage) SetSeq(_ context.Context, userID int64, seq int) error {
	state := m.states[userID]
	state.Seq = seq
	m.states[userID] = state
	return nil
}

func (m *memStorage) SetDateSeq(_ context.Context, userID int64, date, seq int) error {
	state := m.states[userID]
	state.Date, state.Seq = date, seq
	m.states[userID] = state
	return nil
}

func (m *memStorage) GetChannelPts(_ context.Context, userID, channelID int64) (int, bool, error) {
	pts, ok := m.channels[userID][channelID]
	return pts, ok, nil
}

func (m *memStorage) SetChannelPts(_ context.Context, userID, channelID int64, pts int) error {
	if m.channels[userID] == nil {
		m.channels[userID] = map[int64]int{}
	}
	m.channels[userID][channelID] = pts
	return nil
}

func (m *memStorage) ForEachChannels(ctx context.Context, userID int64, fn func(ctx context.Context, channelID int64, pts int) error) error {
	for channelID, pts := range m.channels[userID] {
		if err := fn(ctx, channelID, pts); err != nil {
			return err
		}
	}
	return nil
}

type memHasher struct {
	hashes map[int64]map[int64]int64
}

var _ ChannelAccessHasher = (*memHasher)(nil)

func (m *memHasher) GetChannelAccessHash(_ context.Context, userID, channelID int64) (int64, bool, error) {
	hash, ok := m.hashes[userID][channelID]
	return hash, ok, nil
}

func (m *memHasher) SetChannelAccessHash(_ context.Context, userID, channelID, hash int64) error {
	if m.hashes == nil {
		m.hashes = map[int64]map[int64]int64{}
	}
	if m.hashes[userID] == nil {
		m.hashes[userID] = map[int64]int64{}
	}
	m.hashes[userID][channelID] = hash
	return nil
}

type collectingHandler struct {
	updates []tg.UpdateClass
}

func (h *collectingHandler) Handle(_ context.Context, u tg.UpdatesClass) error {
	h.updates = append(h.updates, u.(*tg.Updates).Updates...)
	return nil
}

type fakeAPI struct {
	t *testing.T

	differenceCalls  int
	difference       tg.UpdatesDifferenceClass
	channelDiffCalls int
	channelDiff      tg.UpdatesChannelDifferenceClass
}

func (f *fakeAPI) UpdatesGetState(context.Context) (*tg.UpdatesState, error) {
	return &tg.UpdatesState{}, nil
}

func (f *fakeAPI) UpdatesGetDifference(_ context.Context, req *tg.UpdatesGetDifferenceRequest) (tg.UpdatesDifferenceClass, error) {
	f.differenceCalls++
	if f.difference == nil {
		return &tg.UpdatesDifferenceEmpty{Date: req.Date, Seq: 0}, nil
	}
	return f.difference, nil
}

func (f *fakeAPI) UpdatesGetChannelDifference(context.Context, *tg.UpdatesGetChannelDifferenceRequest) (tg.UpdatesChannelDifferenceClass, error) {
	f.channelDiffCalls++
	if f.channelDiff == nil {
		return &tg.UpdatesChannelDifferenceEmpty{Final: true, Pts: 1}, nil
	}
	return f.channelDiff, nil
}

const testUserID = 7777

func newTestState(t *testing.T, initial State) (*internalState, *memStorage, *collectingHandler, *fakeAPI) {
	t.Helper()
	storage := newMemStorage()
	require.NoError(t, storage.SetState(context.Background(), testUserID, initial))
	handler := &collectingHandler{}
	api := &fakeAPI{t: t}
	s := newInternalState(Config{
		Handler:      handler,
		Storage:      storage,
		AccessHasher: &memHasher{},
		Logger:       zerolog.Nop(),
	}, api, testUserID, initial)
	return s, storage, handler, api
}

func newMessageUpdate(id, pts, ptsCount int) *tg.UpdateNewMessage {
	return &tg.UpdateNewMessage{
		Message:  &tg.Message{ID: id, PeerID: &tg.PeerUser{UserID: 123}, Message: "msg"},
		Pts:      pts,
		PtsCount: ptsCount,
	}
}

func TestPtsApplyInOrder(t *testing.T) {
	s, storage, handler, api := newTestState(t, State{Pts: 100, Date: 1000})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := s.handleUpdates(ctx, &tg.Updates{
			Updates: []tg.UpdateClass{newMessageUpdate(i, 100+i, 1)},
			Date:    1000 + i,
		})
		require.NoError(t, err)
	}

	assert.Len(t, handler.updates, 3)
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 103, state.Pts)
	assert.Equal(t, 1003, state.Date)
	assert.Zero(t, api.differenceCalls)
}

func TestPtsDuplicateDropped(t *testing.T) {
	s, storage, handler, _ := newTestState(t, State{Pts: 100})
	ctx := context.Background()

	err := s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{newMessageUpdate(5, 99, 1)},
	})
	require.NoError(t, err)

	assert.Empty(t, handler.updates)
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 100, state.Pts)
}

func TestPtsGapRecovery(t *testing.T) {
	s, storage, handler, api := newTestState(t, State{Pts: 100, Date: 1000})
	ctx := context.Background()

	// The difference returns the three missed messages and the final state.
	api.difference = &tg.UpdatesDifference{
		NewMessages: []tg.MessageClass{
			&tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 123}},
			&tg.Message{ID: 2, PeerID: &tg.PeerUser{UserID: 123}},
			&tg.Message{ID: 3, PeerID: &tg.PeerUser{UserID: 123}},
		},
		State: tg.UpdatesState{Pts: 103, Date: 1003},
	}

	err := s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{newMessageUpdate(3, 103, 1)},
		Date:    1003,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, api.differenceCalls)
	require.Len(t, handler.updates, 3)
	for i, u := range handler.updates {
		assert.Equal(t, i+1, u.(*tg.UpdateNewMessage).Message.GetID())
	}
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 103, state.Pts)
}

func TestSeqGapTriggersDifference(t *testing.T) {
	s, _, _, api := newTestState(t, State{Seq: 10, Date: 1000})
	ctx := context.Background()

	err := s.handleUpdates(ctx, &tg.UpdatesCombined{
		Updates:  []tg.UpdateClass{&tg.UpdateUserTyping{UserID: 1}},
		Seq:      13,
		SeqStart: 13,
		Date:     1003,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, api.differenceCalls)
}

func TestSeqDuplicateDropped(t *testing.T) {
	s, _, handler, _ := newTestState(t, State{Seq: 10})
	ctx := context.Background()

	err := s.handleUpdates(ctx, &tg.UpdatesCombined{
		Updates:  []tg.UpdateClass{&tg.UpdateUserTyping{UserID: 1}},
		Seq:      10,
		SeqStart: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, handler.updates)
}

func TestShortMessageConversion(t *testing.T) {
	s, storage, handler, _ := newTestState(t, State{Pts: 50})
	ctx := context.Background()

	err := s.handleUpdates(ctx, &tg.UpdateShortMessage{
		ID:       7,
		UserID:   456,
		Message:  "hello",
		Pts:      51,
		PtsCount: 1,
		Date:     2000,
	})
	require.NoError(t, err)

	require.Len(t, handler.updates, 1)
	newMsg := handler.updates[0].(*tg.UpdateNewMessage)
	msg := newMsg.Message.(*tg.Message)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, &tg.PeerUser{UserID: 456}, msg.PeerID)
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 51, state.Pts)
}

func TestChannelAdoptThenApply(t *testing.T) {
	s, storage, handler, _ := newTestState(t, State{})
	ctx := context.Background()

	mkChannelMsg := func(id, pts int) *tg.UpdateNewChannelMessage {
		return &tg.UpdateNewChannelMessage{
			Message:  &tg.Message{ID: id, PeerID: &tg.PeerChannel{ChannelID: 100}},
			Pts:      pts,
			PtsCount: 1,
		}
	}

	// First channel update ever seen adopts the pts as-is.
	require.NoError(t, s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{mkChannelMsg(1, 500)},
	}))
	pts, found, _ := storage.GetChannelPts(ctx, testUserID, 100)
	require.True(t, found)
	assert.Equal(t, 500, pts)

	// In-order successor applies normally, duplicate gets dropped.
	require.NoError(t, s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{mkChannelMsg(2, 501)},
	}))
	require.NoError(t, s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{mkChannelMsg(2, 501)},
	}))
	pts, _, _ = storage.GetChannelPts(ctx, testUserID, 100)
	assert.Equal(t, 501, pts)
	assert.Len(t, handler.updates, 2)
}

func TestChannelGapFetchesChannelDifference(t *testing.T) {
	s, storage, handler, api := newTestState(t, State{})
	ctx := context.Background()
	require.NoError(t, storage.SetChannelPts(ctx, testUserID, 100, 500))
	s.channels[100] = &box{500}
	require.NoError(t, s.cfg.AccessHasher.SetChannelAccessHash(ctx, testUserID, 100, 999))

	api.channelDiff = &tg.UpdatesChannelDifference{
		Final: true,
		Pts:   503,
		NewMessages: []tg.MessageClass{
			&tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 100}},
			&tg.Message{ID: 2, PeerID: &tg.PeerChannel{ChannelID: 100}},
			&tg.Message{ID: 3, PeerID: &tg.PeerChannel{ChannelID: 100}},
		},
	}

	err := s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{&tg.UpdateNewChannelMessage{
			Message:  &tg.Message{ID: 3, PeerID: &tg.PeerChannel{ChannelID: 100}},
			Pts:      503,
			PtsCount: 1,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, api.channelDiffCalls)
	assert.Len(t, handler.updates, 3)
	pts, _, _ := storage.GetChannelPts(ctx, testUserID, 100)
	assert.Equal(t, 503, pts)
}

func TestChannelTooLongCallback(t *testing.T) {
	var resynced []int64
	storage := newMemStorage()
	require.NoError(t, storage.SetState(context.Background(), testUserID, State{}))
	s := newInternalState(Config{
		Handler:          &collectingHandler{},
		Storage:          storage,
		AccessHasher:     &memHasher{},
		OnChannelTooLong: func(channelID int64) { resynced = append(resynced, channelID) },
		Logger:           zerolog.Nop(),
	}, &fakeAPI{t: t}, testUserID, State{})
	ctx := context.Background()
	require.NoError(t, storage.SetChannelPts(ctx, testUserID, 200, 10))
	s.channels[200] = &box{10}
	require.NoError(t, s.cfg.AccessHasher.SetChannelAccessHash(ctx, testUserID, 200, 1))

	dialog := &tg.Dialog{}
	dialog.SetPts(9000)
	api := s.api.(*fakeAPI)
	api.channelDiff = &tg.UpdatesChannelDifferenceTooLong{Dialog: dialog}

	require.NoError(t, s.recoverChannelGap(ctx, 200))
	assert.Equal(t, []int64{200}, resynced)
	pts, _, _ := storage.GetChannelPts(ctx, testUserID, 200)
	assert.Equal(t, 9000, pts)
}

func TestAccessHashCapturedBeforeEmit(t *testing.T) {
	s, _, _, _ := newTestState(t, State{Pts: 10})
	ctx := context.Background()

	channel := &tg.Channel{ID: 300}
	channel.SetAccessHash(1234)
	err := s.handleUpdates(ctx, &tg.Updates{
		Updates: []tg.UpdateClass{newMessageUpdate(1, 11, 1)},
		Chats:   []tg.ChatClass{channel},
	})
	require.NoError(t, err)

	hash, found, _ := s.cfg.AccessHasher.GetChannelAccessHash(ctx, testUserID, 300)
	require.True(t, found)
	assert.EqualValues(t, 1234, hash)
}

func TestChannelTooLongInDifferenceWithoutHash(t *testing.T) {
	// The difference keeps reporting a channel gap but never includes the
	// channel itself, so its access hash is never learned. Recovery must not
	// request another difference from inside the replay: that would refetch
	// and re-emit the same range over and over.
	var resynced []int64
	storage := newMemStorage()
	require.NoError(t, storage.SetState(context.Background(), testUserID, State{Pts: 10}))
	handler := &collectingHandler{}
	api := &fakeAPI{t: t}
	s := newInternalState(Config{
		Handler:          handler,
		Storage:          storage,
		AccessHasher:     &memHasher{},
		OnChannelTooLong: func(channelID int64) { resynced = append(resynced, channelID) },
		Logger:           zerolog.Nop(),
	}, api, testUserID, State{Pts: 10})
	ctx := context.Background()

	api.difference = &tg.UpdatesDifference{
		NewMessages: []tg.MessageClass{
			&tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 123}},
		},
		OtherUpdates: []tg.UpdateClass{&tg.UpdateChannelTooLong{ChannelID: 555}},
		State:        tg.UpdatesState{Pts: 11},
	}

	require.NoError(t, s.recoverChannelGap(ctx, 555))

	assert.Equal(t, 1, api.differenceCalls)
	assert.Len(t, handler.updates, 1)
	assert.Contains(t, resynced, int64(555))
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 11, state.Pts)
}

func TestDifferenceTooLongAdoptsPts(t *testing.T) {
	s, storage, handler, api := newTestState(t, State{Pts: 10})
	ctx := context.Background()
	api.difference = &tg.UpdatesDifferenceTooLong{Pts: 5000}

	require.NoError(t, s.getDifference(ctx))
	assert.Empty(t, handler.updates)
	state, _, _ := storage.GetState(ctx, testUserID)
	assert.Equal(t, 5000, state.Pts)
}
