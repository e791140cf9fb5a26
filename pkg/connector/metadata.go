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

package connector

import (
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/id"
)

func (tg *TelegramConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		Ghost:     func() any { return &GhostMetadata{} },
		Portal:    func() any { return &PortalMetadata{} },
		Message:   func() any { return &MessageMetadata{} },
		Reaction:  nil,
		UserLogin: func() any { return &UserLoginMetadata{} },
	}
}

type GhostMetadata struct {
	IsPremium bool `json:"is_premium,omitempty"`
	IsBot     bool `json:"is_bot,omitempty"`
	IsChannel bool `json:"is_channel,omitempty"`
	IsContact bool `json:"is_contact,omitempty"`
	Blocked   bool `json:"blocked,omitempty"`
	Deleted   bool `json:"deleted,omitempty"`
}

type PortalMetadata struct {
	IsSuperGroup     bool     `json:"is_supergroup,omitempty"`
	ReadUpTo         int      `json:"read_up_to,omitempty"`
	MessagesTTL      int      `json:"messages_ttl,omitempty"`
	AllowedReactions []string `json:"allowed_reactions"`
}

func (pm *PortalMetadata) SetIsSuperGroup(isSupergroup bool) (changed bool) {
	changed = pm.IsSuperGroup != isSupergroup
	pm.IsSuperGroup = isSupergroup
	return changed
}

type MessageMetadata struct {
	ContentHash []byte              `json:"content_hash,omitempty"`
	ContentURI  id.ContentURIString `json:"content_uri,omitempty"`
}

// UserLoginMetadata is the JSON blob stored on the user login row. The
// MTProto session itself lives in the scoped store, not here.
type UserLoginMetadata struct {
	Phone     string `json:"phone"`
	TakeoutID int64  `json:"takeout_id,omitempty"`

	TakeoutDialogCrawlDone   bool               `json:"takeout_portal_crawl_done,omitempty"`
	TakeoutDialogCrawlCursor networkid.PortalID `json:"takeout_portal_crawl_cursor,omitempty"`

	PinnedDialogs []networkid.PortalID `json:"pinned_dialogs,omitempty"`
}

func (u *UserLoginMetadata) ResetOnLogout() {
	u.TakeoutID = 0
	u.TakeoutDialogCrawlDone = false
	u.TakeoutDialogCrawlCursor = networkid.PortalID("")
}
