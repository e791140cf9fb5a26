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

package telegramfmt_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/gotd/td/tg"

	"go.mau.fi/mautrix-telegram/pkg/connector/emojis"
	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
	"go.mau.fi/mautrix-telegram/pkg/connector/telegramfmt"
)

func TestParse(t *testing.T) {
	aliceMXID := id.UserID("@test:example.com")
	formatParams := telegramfmt.FormatParams{
		GetUserInfoByID: func(ctx context.Context, userID int64) (telegramfmt.UserInfo, error) {
			if userID == 1 {
				return telegramfmt.UserInfo{MXID: aliceMXID, Name: "Alice"}, nil
			}
			return telegramfmt.UserInfo{
				MXID: id.UserID(fmt.Sprintf("@telegram_%d:example.com", userID)),
				Name: fmt.Sprintf("User %d", userID),
			}, nil
		},
		GetUserInfoByUsername: func(ctx context.Context, username string) (telegramfmt.UserInfo, error) {
			return telegramfmt.UserInfo{
				MXID: id.UserID(fmt.Sprintf("@telegram_%s:example.com", username)),
				Name: username,
			}, nil
		},
		NormalizeURL: func(ctx context.Context, url string) string {
			return url
		},
	}
	tests := []struct {
		name string
		ins  string
		ine  []tg.MessageEntityClass
		body string
		html string

		extraChecks func(*testing.T, *event.MessageEventContent)
	}{
		{
			name: "empty",
			extraChecks: func(t *testing.T, content *event.MessageEventContent) {
				assert.Empty(t, content.FormattedBody)
				assert.Empty(t, content.Body)
			},
		},
		{
			name: "plain",
			ins:  "Hello world!",
			body: "Hello world!",
			extraChecks: func(t *testing.T, content *event.MessageEventContent) {
				assert.Empty(t, content.FormattedBody)
				assert.Empty(t, content.Format)
			},
		},
		{
			name: "bold",
			ins:  "Hello world",
			ine:  []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 5}},
			body: "Hello world",
			html: "<strong>Hello</strong> world",
		},
		{
			name: "overlapping entities get split",
			ins:  "abcdef",
			ine: []tg.MessageEntityClass{
				&tg.MessageEntityBold{Offset: 0, Length: 4},
				&tg.MessageEntityItalic{Offset: 2, Length: 4},
			},
			body: "abcdef",
			html: "<strong>ab<em>cd</em></strong><em>ef</em>",
		},
		{
			name: "code escapes html",
			ins:  "x <b> y",
			ine:  []tg.MessageEntityClass{&tg.MessageEntityCode{Offset: 0, Length: 7}},
			body: "x <b> y",
			html: "<code>x &lt;b&gt; y</code>",
		},
		{
			name: "pre with language",
			ins:  "print(1)",
			ine:  []tg.MessageEntityClass{&tg.MessageEntityPre{Offset: 0, Length: 8, Language: "python"}},
			body: "print(1)",
			html: "<pre><code class='language-python'>print(1)</code></pre>",
		},
		{
			name: "entity truncated to message length",
			ins:  "short",
			ine:  []tg.MessageEntityClass{&tg.MessageEntityItalic{Offset: 0, Length: 100}},
			body: "short",
			html: "<em>short</em>",
		},
		{
			name: "mention by user ID",
			ins:  "Hello Alice",
			ine:  []tg.MessageEntityClass{&tg.MessageEntityMentionName{Offset: 6, Length: 5, UserID: 1}},
			body: "Hello Alice",
			html: fmt.Sprintf(`Hello <a href="%s">Alice</a>`, aliceMXID.URI().MatrixToURL()),
			extraChecks: func(t *testing.T, content *event.MessageEventContent) {
				assert.Equal(t, []id.UserID{aliceMXID}, content.Mentions.UserIDs)
			},
		},
		{
			name: "spoiler",
			ins:  "secret",
			ine:  []tg.MessageEntityClass{&tg.MessageEntitySpoiler{Offset: 0, Length: 6}},
			body: "secret",
			html: "<span data-mx-spoiler>secret</span>",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			parsed, err := telegramfmt.Parse(context.TODO(), test.ins, test.ine, formatParams)
			require.NoError(t, err)
			assert.Equal(t, test.body, parsed.Body)
			assert.Equal(t, test.html, parsed.FormattedBody)
			if test.extraChecks != nil {
				test.extraChecks(t, parsed)
			}
		})
	}
}

func TestParse_CustomEmoji(t *testing.T) {
	fire := "\U0001f525"
	params := telegramfmt.FormatParams{}.WithCustomEmojis(map[networkid.EmojiID]emojis.EmojiInfo{
		ids.MakeEmojiIDFromDocumentID(123): {Emoji: fire},
	})
	parsed, err := telegramfmt.Parse(context.TODO(), fire, []tg.MessageEntityClass{
		&tg.MessageEntityCustomEmoji{Offset: 0, Length: 2, DocumentID: 123},
	}, params)
	require.NoError(t, err)
	assert.Equal(t, fire, parsed.FormattedBody)
}
