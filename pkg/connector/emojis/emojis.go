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

// Package emojis maps the custom emoji document IDs from Telegram's built-in
// unicode emoji pack back to their plain unicode equivalents, so that standard
// reactions don't get bridged as custom images.
package emojis

import (
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
)

// unicodemojiPack maps unicode emoji to the document IDs Telegram assigns
// them in the official unicode emoji pack. The IDs are stable; only the
// commonly used subset is listed here.
var unicodemojiPack = map[string]int64{
	"❤":          5449505950283078474,
	"\U0001f44d": 5449675203521231540,
	"\U0001f44e": 5449862161518135891,
	"\U0001f525": 5445284980978621387,
	"\U0001f389": 5447183459602378692,
	"\U0001f602": 5449687343912907954,
	"\U0001f62e": 5448165808089388674,
	"\U0001f622": 5447434125428957725,
	"\U0001f64f": 5449484026849152049,
	"\U0001f44f": 5449468964198099180,
	"\U0001f60d": 5449773139571620196,
	"\U0001f914": 5449710918409081782,
	"\U0001f92f": 5449835593615998553,
	"\U0001f631": 5448476624243261854,
	"\U0001f921": 5449751741896437211,
	"\U0001f973": 5445988022037649060,
	"\U0001f4af": 5444892974533900238,
	"\U0001f951": 5444796090136499619,
	"\U0001f340": 5447247936224279934,
	"\U0001f37e": 5445009612967420111,
	"\U0001f4a9": 5449728594245714016,
	"\U0001f64c": 5449682662571770364,
	"\U0001f480": 5449481176830948347,
	"\U0001f60e": 5448886550103789292,
	"\U0001f607": 5448869964798372681,
	"\U0001f970": 5448530472202711850,
	"\U0001f92c": 5448367971575977359,
	"\U0001f648": 5448438975107970498,
	"\U0001f923": 5446851077704550660,
	"\U0001f926": 5444919907711506477,
}

var reverseUnicodemojiPack = make(map[int64]string, len(unicodemojiPack))

func init() {
	for k, v := range unicodemojiPack {
		reverseUnicodemojiPack[v] = k
	}
}

// ConvertKnownEmojis converts known document IDs from the unicode emoji pack
// to the corresponding unicode string and returns the remaining IDs.
func ConvertKnownEmojis(emojiIDs []int64) (result map[networkid.EmojiID]EmojiInfo, remaining []int64) {
	result = map[networkid.EmojiID]EmojiInfo{}
	for _, e := range emojiIDs {
		if v, ok := reverseUnicodemojiPack[e]; ok {
			result[ids.MakeEmojiIDFromDocumentID(e)] = EmojiInfo{Emoji: v}
		} else {
			remaining = append(remaining, e)
		}
	}
	return
}

// GetEmojiDocumentID returns the unicode emoji pack document ID for the given
// emoji, if it has one.
func GetEmojiDocumentID(emoji string) (int64, bool) {
	id, ok := unicodemojiPack[emoji]
	return id, ok
}

// EmojiInfo contains information about an emoji.
type EmojiInfo struct {
	Emoji    string
	EmojiURI id.ContentURIString
}
