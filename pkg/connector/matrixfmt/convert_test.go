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

package matrixfmt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/gotd/td/tg"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
	"go.mau.fi/mautrix-telegram/pkg/connector/matrixfmt"
)

var testParser = &matrixfmt.HTMLParser{
	GetGhostDetails: func(ctx context.Context, mxid id.UserID) (networkid.UserID, string, int64, bool) {
		if mxid == "@telegram_12345:example.com" {
			return ids.MakeUserID(12345), "", 678, true
		}
		return "", "", 0, false
	},
}

func TestParse_Plain(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    "hello world",
	})
	assert.Equal(t, "hello world", text)
	assert.Empty(t, entities)
}

func TestParse_MediaWithoutCaption(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    "image.png",
	})
	assert.Empty(t, text)
	assert.Empty(t, entities)
}

func TestParse_Styles(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "<strong>bold</strong> and <em>italic</em>",
	})
	assert.Equal(t, "bold and italic", text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 0, Length: 4},
		&tg.MessageEntityItalic{Offset: 9, Length: 6},
	}, entities)
}

func TestParse_NestedStyles(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "<strong>bold <em>both</em></strong>",
	})
	assert.Equal(t, "bold both", text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 0, Length: 9},
		&tg.MessageEntityItalic{Offset: 5, Length: 4},
	}, entities)
}

func TestParse_CodeBlock(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "<pre><code class=\"language-go\">x := 1</code></pre>",
	})
	assert.Equal(t, "x := 1", text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.MessageEntityPre{Offset: 0, Length: 6, Language: "go"},
	}, entities)
}

func TestParse_Link(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "see <a href=\"https://example.com\">this</a>",
	})
	assert.Equal(t, "see this", text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.MessageEntityTextURL{Offset: 4, Length: 4, URL: "https://example.com"},
	}, entities)
}

func TestParse_Mention(t *testing.T) {
	mxid := id.UserID("@telegram_12345:example.com")
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "hi <a href=\"https://matrix.to/#/@telegram_12345:example.com\">Someone</a>",
		Mentions:      &event.Mentions{UserIDs: []id.UserID{mxid}},
	})
	assert.Equal(t, "hi Someone", text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.InputMessageEntityMentionName{
			Offset: 3,
			Length: 7,
			UserID: &tg.InputUser{UserID: 12345, AccessHash: 678},
		},
	}, entities)
}

func TestParse_MentionNotAllowed(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "hi <a href=\"https://matrix.to/#/@telegram_12345:example.com\">Someone</a>",
		Mentions:      &event.Mentions{},
	})
	assert.Equal(t, "hi Someone", text)
	assert.Empty(t, entities)
}

func TestParse_List(t *testing.T) {
	text, entities := matrixfmt.Parse(context.TODO(), testParser, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          "fallback",
		Format:        event.FormatHTML,
		FormattedBody: "<ul><li>one</li><li>two</li></ul>",
	})
	assert.Equal(t, "* one\n* two", text)
	assert.Empty(t, entities)
}
