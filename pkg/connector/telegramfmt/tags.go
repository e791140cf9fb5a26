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

package telegramfmt

import (
	"fmt"
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

// BodyRangeValue is the style or mention a BodyRange applies.
type BodyRangeValue interface {
	String() string
	Format(message string) string
	IsCode() bool
}

// Mention is a formatting entity pointing at a user.
type Mention struct {
	UserInfo
	// Username is set for @username mentions, where the mention text
	// already contains the name.
	Username string

	// UserID and AccessHash identify the Telegram user when converting in
	// the Matrix to Telegram direction.
	UserID     networkid.UserID
	AccessHash int64
}

var _ BodyRangeValue = Mention{}

func (m Mention) String() string {
	return fmt.Sprintf("Mention{MXID: id.UserID(%q), Name: %q}", m.MXID, m.Name)
}

func (m Mention) IsCode() bool {
	return false
}

func (m Mention) Format(message string) string {
	if m.Username != "" {
		return fmt.Sprintf(`<a href="%s">@%s</a>`, m.MXID.URI().MatrixToURL(), m.Username)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, m.MXID.URI().MatrixToURL(), m.Name)
}

type StyleType int

const (
	StyleNone StyleType = iota
	StyleBold
	StyleItalic
	StyleUnderline
	StyleStrikethrough
	StyleBlockquote
	StyleCode
	StylePre
	StyleEmail
	StyleTextURL
	StyleURL
	StyleCustomEmoji
	StyleBotCommand
	StyleHashtag
	StyleCashtag
	StylePhone
	StyleSpoiler
	StyleBankCard
)

func (s StyleType) String() string {
	switch s {
	case StyleNone:
		return "StyleNone"
	case StyleBold:
		return "StyleBold"
	case StyleItalic:
		return "StyleItalic"
	case StyleUnderline:
		return "StyleUnderline"
	case StyleStrikethrough:
		return "StyleStrikethrough"
	case StyleBlockquote:
		return "StyleBlockquote"
	case StyleCode:
		return "StyleCode"
	case StylePre:
		return "StylePre"
	case StyleEmail:
		return "StyleEmail"
	case StyleTextURL:
		return "StyleTextURL"
	case StyleURL:
		return "StyleURL"
	case StyleCustomEmoji:
		return "StyleCustomEmoji"
	case StyleBotCommand:
		return "StyleBotCommand"
	case StyleHashtag:
		return "StyleHashtag"
	case StyleCashtag:
		return "StyleCashtag"
	case StylePhone:
		return "StylePhone"
	case StyleSpoiler:
		return "StyleSpoiler"
	case StyleBankCard:
		return "StyleBankCard"
	default:
		return fmt.Sprintf("StyleType(%d)", int(s))
	}
}

// Style represents a style to apply to a range of text.
type Style struct {
	Type StyleType

	// Language is the language of the code block, if applicable.
	Language string

	// URL is the URL to link to, if applicable.
	URL string

	// Emoji is the unicode fallback for a custom emoji, if known.
	Emoji string

	// EmojiURI is the mxc URI of a custom emoji, if reuploaded.
	EmojiURI id.ContentURIString
}

var _ BodyRangeValue = Style{}

func (s Style) String() string {
	return fmt.Sprintf("Style{Type: %s, Language: %s, URL: %s}", s.Type, s.Language, s.URL)
}

func (s Style) IsCode() bool {
	return s.Type == StyleCode || s.Type == StylePre
}

func (s Style) Format(message string) string {
	switch s.Type {
	case StyleBold:
		return fmt.Sprintf("<strong>%s</strong>", message)
	case StyleItalic:
		return fmt.Sprintf("<em>%s</em>", message)
	case StyleSpoiler:
		return fmt.Sprintf("<span data-mx-spoiler>%s</span>", message)
	case StyleStrikethrough:
		return fmt.Sprintf("<del>%s</del>", message)
	case StyleUnderline:
		return fmt.Sprintf("<u>%s</u>", message)
	case StyleBlockquote:
		return fmt.Sprintf("<blockquote>%s</blockquote>", message)
	case StyleCode:
		if strings.ContainsRune(message, '\n') {
			// Matrix has no inline multiline monospace, a block is the
			// closest equivalent.
			return fmt.Sprintf("<pre><code>%s</code></pre>", message)
		}
		return fmt.Sprintf("<code>%s</code>", message)
	case StylePre:
		if s.Language != "" {
			return fmt.Sprintf("<pre><code class='language-%s'>%s</code></pre>", s.Language, message)
		}
		return fmt.Sprintf("<pre><code>%s</code></pre>", message)
	case StyleEmail:
		return fmt.Sprintf(`<a href='mailto:%s'>%s</a>`, message, message)
	case StyleTextURL, StyleURL:
		if strings.HasPrefix(s.URL, "https://matrix.to/#") {
			return s.URL
		}
		return fmt.Sprintf(`<a href='%s'>%s</a>`, s.URL, message)
	case StyleCustomEmoji:
		if s.Emoji != "" {
			return s.Emoji
		}
		return fmt.Sprintf(
			`<img data-mx-emoticon data-mau-animated-emoji src="%s" height="32" width="32" alt="%s" title="%s"/>`,
			s.EmojiURI, message, message,
		)
	case StyleBotCommand, StyleHashtag, StyleCashtag, StylePhone:
		return fmt.Sprintf("<font color='#3771bb'>%s</font>", message)
	default:
		return message
	}
}
