package ids_test

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
)

func TestPeerTypeByteRoundTrip(t *testing.T) {
	for _, pt := range []ids.PeerType{ids.PeerTypeUser, ids.PeerTypeChat, ids.PeerTypeChannel} {
		parsed, err := ids.PeerTypeFromByte(pt.AsByte())
		require.NoError(t, err)
		assert.Equal(t, pt, parsed)
	}

	_, err := ids.PeerTypeFromByte(0x04)
	assert.Error(t, err)
}

func TestUserIDRoundTrip(t *testing.T) {
	peerType, id, err := ids.ParseUserID(ids.MakeUserID(12345))
	require.NoError(t, err)
	assert.Equal(t, ids.PeerTypeUser, peerType)
	assert.EqualValues(t, 12345, id)

	peerType, id, err = ids.ParseUserID(ids.MakeChannelUserID(987654321))
	require.NoError(t, err)
	assert.Equal(t, ids.PeerTypeChannel, peerType)
	assert.EqualValues(t, 987654321, id)
}

func TestPortalKeyScoping(t *testing.T) {
	login := networkid.UserLoginID("7777")

	dm := ids.PeerTypeUser.AsPortalKey(123, login)
	assert.EqualValues(t, "user:123", dm.ID)
	assert.Equal(t, login, dm.Receiver)

	group := ids.PeerTypeChat.AsPortalKey(456, login)
	assert.EqualValues(t, "chat:456", group.ID)
	assert.Equal(t, login, group.Receiver)

	channel := ids.PeerTypeChannel.AsPortalKey(789, login)
	assert.EqualValues(t, "channel:789", channel.ID)
	assert.Empty(t, channel.Receiver)
}

func TestMakePortalKey(t *testing.T) {
	login := networkid.UserLoginID("1")
	assert.EqualValues(t, "user:5", ids.MakePortalKey(&tg.PeerUser{UserID: 5}, login).ID)
	assert.EqualValues(t, "chat:6", ids.MakePortalKey(&tg.PeerChat{ChatID: 6}, login).ID)
	key := ids.MakePortalKey(&tg.PeerChannel{ChannelID: 7}, login)
	assert.EqualValues(t, "channel:7", key.ID)
	assert.Empty(t, key.Receiver)
}

func TestParsePortalID(t *testing.T) {
	pt, chatID, err := ids.ParsePortalID(networkid.PortalID("channel:100"))
	require.NoError(t, err)
	assert.Equal(t, ids.PeerTypeChannel, pt)
	assert.EqualValues(t, 100, chatID)

	_, _, err = ids.ParsePortalID(networkid.PortalID("100"))
	assert.Error(t, err)
	_, _, err = ids.ParsePortalID(networkid.PortalID("group:100"))
	assert.Error(t, err)
	_, _, err = ids.ParsePortalID(networkid.PortalID("user:banana"))
	assert.Error(t, err)
}

func TestMessageIDRoundTrip(t *testing.T) {
	plain := ids.MakeMessageID(&tg.PeerUser{UserID: 123}, 42)
	assert.EqualValues(t, "42", plain)
	channelID, msgID, err := ids.ParseMessageID(plain)
	require.NoError(t, err)
	assert.Zero(t, channelID)
	assert.Equal(t, 42, msgID)

	inChannel := ids.MakeMessageID(&tg.PeerChannel{ChannelID: 100}, 42)
	assert.EqualValues(t, "100.42", inChannel)
	channelID, msgID, err = ids.ParseMessageID(inChannel)
	require.NoError(t, err)
	assert.EqualValues(t, 100, channelID)
	assert.Equal(t, 42, msgID)

	_, _, err = ids.ParseMessageID(networkid.MessageID("1.2.3"))
	assert.Error(t, err)
	_, _, err = ids.ParseMessageID(networkid.MessageID("hello"))
	assert.Error(t, err)
}

func TestGetMessageIDFromMessage(t *testing.T) {
	msg := &tg.Message{ID: 7, PeerID: &tg.PeerChannel{ChannelID: 55}}
	assert.EqualValues(t, "55.7", ids.GetMessageIDFromMessage(msg))

	svc := &tg.MessageService{ID: 8, PeerID: &tg.PeerChat{ChatID: 9}}
	assert.EqualValues(t, "8", ids.GetMessageIDFromMessage(svc))
}

func TestEmojiIDRoundTrip(t *testing.T) {
	docID, emoji, err := ids.ParseEmojiID(ids.MakeEmojiIDFromDocumentID(5368324170671202286))
	require.NoError(t, err)
	assert.EqualValues(t, 5368324170671202286, docID)
	assert.Empty(t, emoji)

	docID, emoji, err = ids.ParseEmojiID(ids.MakeEmojiIDFromEmoticon("👍"))
	require.NoError(t, err)
	assert.Zero(t, docID)
	assert.Equal(t, "👍", emoji)
}

func TestDirectMediaInfoRoundTrip(t *testing.T) {
	info := ids.DirectMediaInfo{
		PeerType:        ids.PeerTypeChannel,
		ChatID:          1234567890,
		MessageID:       42,
		Thumbnail:       true,
		TelegramMediaID: -9876543210,
	}
	mediaID, err := info.AsMediaID()
	require.NoError(t, err)
	assert.Len(t, []byte(mediaID), 27)

	parsed, err := ids.ParseDirectMediaInfo(mediaID)
	require.NoError(t, err)
	assert.Equal(t, info, parsed)
}

func TestParseDirectMediaInfoCompat(t *testing.T) {
	full, err := ids.DirectMediaInfo{
		PeerType:  ids.PeerTypeUser,
		ChatID:    123,
		MessageID: 456,
	}.AsMediaID()
	require.NoError(t, err)

	// Old bridge versions emitted 18 byte (no flags) and 19 byte (thumbnail
	// flag only) media IDs.
	for _, length := range []int{18, 19} {
		parsed, err := ids.ParseDirectMediaInfo(full[:length])
		require.NoError(t, err)
		assert.Equal(t, ids.PeerTypeUser, parsed.PeerType)
		assert.EqualValues(t, 123, parsed.ChatID)
		assert.EqualValues(t, 456, parsed.MessageID)
		assert.Zero(t, parsed.TelegramMediaID)
	}

	_, err = ids.ParseDirectMediaInfo(full[:20])
	assert.Error(t, err)
	_, err = ids.ParseDirectMediaInfo(networkid.MediaID(nil))
	assert.Error(t, err)
}
