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

// Package telegramfmt converts Telegram formatting entities into Matrix HTML.
package telegramfmt

import (
	"context"
	"html"
	"unicode/utf16"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/gotd/td/tg"

	"go.mau.fi/mautrix-telegram/pkg/connector/emojis"
	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
)

// UserInfo is the Matrix-side identity of a mentioned Telegram user.
type UserInfo struct {
	MXID id.UserID
	Name string
}

// FormatParams carries the lookups Parse needs to resolve mentions, custom
// emojis and t.me links.
type FormatParams struct {
	CustomEmojis          map[networkid.EmojiID]emojis.EmojiInfo
	GetUserInfoByUsername func(ctx context.Context, username string) (UserInfo, error)
	GetUserInfoByID       func(ctx context.Context, id int64) (UserInfo, error)
	NormalizeURL          func(ctx context.Context, url string) string
}

// WithCustomEmojis returns a copy of the params with the given custom emoji
// map attached.
func (fp FormatParams) WithCustomEmojis(emojis map[networkid.EmojiID]emojis.EmojiInfo) FormatParams {
	fp.CustomEmojis = emojis
	return fp
}

type formatContext struct {
	IsInCodeblock bool
}

func (ctx formatContext) TextToHTML(text string) string {
	if ctx.IsInCodeblock {
		return html.EscapeString(text)
	}
	return event.TextToHTML(text)
}

// UTF16String is a message body indexed in UTF-16 code units, matching the
// offsets in Telegram formatting entities.
type UTF16String []uint16

func NewUTF16String(s string) UTF16String {
	return utf16.Encode([]rune(s))
}

func (u UTF16String) String() string {
	return string(utf16.Decode(u))
}

// Format renders the tree over the given message as Matrix HTML.
func (lrt *LinkedRangeTree) Format(message UTF16String, ctx formatContext) string {
	if lrt == nil || lrt.Node == nil {
		return ctx.TextToHTML(message.String())
	}
	head := ctx.TextToHTML(message[:lrt.Node.Start].String())
	inner := message[lrt.Node.Start:lrt.Node.End()]
	tail := message[lrt.Node.End():]
	ourCtx := ctx
	if lrt.Node.Value.IsCode() {
		ourCtx.IsInCodeblock = true
	}
	formatted := lrt.Node.Value.Format(lrt.Child.Format(inner, ourCtx))
	return head + formatted + lrt.Sibling.Format(tail, ctx)
}

// Parse converts a Telegram message body plus formatting entities into a
// Matrix message content with HTML formatting and mentions.
func Parse(ctx context.Context, message string, entities []tg.MessageEntityClass, params FormatParams) (*event.MessageEventContent, error) {
	log := zerolog.Ctx(ctx).With().Str("func", "Parse").Logger()
	content := &event.MessageEventContent{
		MsgType:  event.MsgText,
		Body:     message,
		Mentions: &event.Mentions{},
	}
	if len(entities) == 0 {
		return content, nil
	}

	lrt := &LinkedRangeTree{}
	mentions := map[id.UserID]struct{}{}
	utf16Message := NewUTF16String(message)
	maxLength := len(utf16Message)
	for _, e := range entities {
		br := BodyRange{
			Start:  e.GetOffset(),
			Length: e.GetLength(),
		}.TruncateEnd(maxLength)
		switch entity := e.(type) {
		case *tg.MessageEntityMention:
			// The body contains @username, chop off the @ for the lookup.
			username := utf16Message[e.GetOffset()+1 : e.GetOffset()+e.GetLength()].String()
			userInfo, err := params.GetUserInfoByUsername(ctx, username)
			if err != nil {
				log.Warn().Err(err).Str("username", username).Msg("Failed to get user info for mention")
				continue
			}
			mentions[userInfo.MXID] = struct{}{}
			br.Value = Mention{UserInfo: userInfo, Username: username}
		case *tg.MessageEntityMentionName:
			userInfo, err := params.GetUserInfoByID(ctx, entity.UserID)
			if err != nil {
				log.Warn().Err(err).Int64("user_id", entity.UserID).Msg("Failed to get user info for mention")
				continue
			}
			mentions[userInfo.MXID] = struct{}{}
			br.Value = Mention{UserInfo: userInfo}
		case *tg.MessageEntityURL:
			br.Value = Style{Type: StyleURL, URL: params.NormalizeURL(ctx, utf16Message[e.GetOffset():e.GetOffset()+e.GetLength()].String())}
		case *tg.MessageEntityTextURL:
			br.Value = Style{Type: StyleURL, URL: params.NormalizeURL(ctx, entity.URL)}
		case *tg.MessageEntityEmail:
			br.Value = Style{Type: StyleEmail}
		case *tg.MessageEntityBold:
			br.Value = Style{Type: StyleBold}
		case *tg.MessageEntityItalic:
			br.Value = Style{Type: StyleItalic}
		case *tg.MessageEntityUnderline:
			br.Value = Style{Type: StyleUnderline}
		case *tg.MessageEntityStrike:
			br.Value = Style{Type: StyleStrikethrough}
		case *tg.MessageEntityCode:
			br.Value = Style{Type: StyleCode}
		case *tg.MessageEntityPre:
			br.Value = Style{Type: StylePre, Language: entity.Language}
		case *tg.MessageEntityBlockquote:
			br.Value = Style{Type: StyleBlockquote}
		case *tg.MessageEntitySpoiler:
			br.Value = Style{Type: StyleSpoiler}
		case *tg.MessageEntityCustomEmoji:
			info := params.CustomEmojis[ids.MakeEmojiIDFromDocumentID(entity.DocumentID)]
			br.Value = Style{Type: StyleCustomEmoji, Emoji: info.Emoji, EmojiURI: info.EmojiURI}
		case *tg.MessageEntityHashtag:
			br.Value = Style{Type: StyleHashtag}
		case *tg.MessageEntityCashtag:
			br.Value = Style{Type: StyleCashtag}
		case *tg.MessageEntityBotCommand:
			br.Value = Style{Type: StyleBotCommand}
		case *tg.MessageEntityPhone:
			br.Value = Style{Type: StylePhone}
		case *tg.MessageEntityBankCard:
			br.Value = Style{Type: StyleBankCard}
		default:
			continue
		}
		lrt.Add(br)
	}

	content.Mentions.UserIDs = maps.Keys(mentions)
	content.FormattedBody = lrt.Format(utf16Message, formatContext{})
	content.Format = event.FormatHTML
	return content, nil
}
