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

// Package store persists Telegram-specific state that doesn't fit in the
// generic bridge tables: MTProto sessions, update sequence counters, access
// hashes and the transferred file cache.
package store

import (
	"context"
	"fmt"

	"go.mau.fi/util/dbutil"

	"go.mau.fi/mautrix-telegram/pkg/store/upgrades"
)

type Container struct {
	db *dbutil.Database

	TelegramFile *TelegramFileQuery
}

func NewContainer(db *dbutil.Database, log dbutil.DatabaseLogger) *Container {
	versionedDB := db.Child("telegram_version", upgrades.Table, log)
	return &Container{
		db: versionedDB,
		TelegramFile: &TelegramFileQuery{
			QueryHelper: dbutil.MakeQueryHelper(versionedDB, newTelegramFile),
		},
	}
}

// Upgrade applies pending schema migrations. Must be called before any other
// method, and only at startup.
func (c *Container) Upgrade(ctx context.Context) error {
	return c.db.Upgrade(ctx)
}

// GetScopedStore returns a store view bound to one Telegram account. All
// per-login state (session blob, update state, access hashes) goes through
// such a view.
func (c *Container) GetScopedStore(telegramUserID int64) *ScopedStore {
	return &ScopedStore{db: c.db, telegramUserID: telegramUserID}
}

// ScopedStore provides access to all per-login state, keyed by the Telegram
// user ID it was created for. Methods that take a user ID parameter (to
// satisfy external storage interfaces) panic if it doesn't match the scope:
// that always indicates a wiring bug, not a runtime condition.
type ScopedStore struct {
	db             *dbutil.Database
	telegramUserID int64
}

func (s *ScopedStore) assertScope(userID int64) {
	if userID != s.telegramUserID {
		panic(fmt.Sprintf("store scoped to %d called with user ID %d", s.telegramUserID, userID))
	}
}
