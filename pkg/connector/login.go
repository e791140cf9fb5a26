// mautrix-telegram - A Matrix-Telegram puppeting bridge.
// Copyright (C) 2024 Sumner Evans
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
	"context"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"go.mau.fi/mautrix-telegram/pkg/connector/ids"
	"go.mau.fi/mautrix-telegram/pkg/connector/util"
)

const (
	LoginFlowIDPhone = "phone"
	LoginFlowIDQR    = "qr"

	LoginStepIDComplete = "fi.mau.telegram.login.complete"
)

func (tg *TelegramConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "Phone Number",
			Description: "Login using your Telegram phone number by getting a code on your phone",
			ID:          LoginFlowIDPhone,
		},
		{
			Name:        "QR Code",
			Description: "Login by scanning a QR code with the Telegram app",
			ID:          LoginFlowIDQR,
		},
	}
}

func (tg *TelegramConnector) CreateLogin(ctx context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	switch flowID {
	case LoginFlowIDPhone:
		return &PhoneLogin{user: user, main: tg, sessionStore: &session.StorageMemory{}}, nil
	case LoginFlowIDQR:
		return &QRLogin{user: user, main: tg, sessionStore: &session.StorageMemory{}}, nil
	default:
		return nil, fmt.Errorf("unknown flow ID %s", flowID)
	}
}

// finalizeLogin is the shared tail of both login flows. It copies the freshly
// authorized session out of the login client's in-memory storage into the
// database-backed scoped store, creates the user login and connects the
// durable client.
func finalizeLogin(ctx context.Context, main *TelegramConnector, user *bridgev2.User, sessionStore *session.StorageMemory, authorization *tg.AuthAuthorization, phone string) (*bridgev2.LoginStep, error) {
	tgUser, ok := authorization.User.(*tg.User)
	if !ok {
		return nil, fmt.Errorf("unexpected user type %T in authorization", authorization.User)
	}

	sessionData, err := sessionStore.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session from login client: %w", err)
	}
	if err := main.Store.GetScopedStore(tgUser.ID).StoreSession(ctx, sessionData); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	remoteName := fmt.Sprintf("+%s", tgUser.Phone)
	if tgUser.Phone == "" {
		remoteName = util.FormatFullName(tgUser.FirstName, tgUser.LastName, tgUser.Deleted, tgUser.ID)
	}
	ul, err := user.NewLogin(ctx, &database.UserLogin{
		ID:         ids.MakeUserLoginID(tgUser.ID),
		RemoteName: remoteName,
		Metadata: &UserLoginMetadata{
			Phone: phone,
		},
	}, &bridgev2.NewLoginParams{
		DeleteOnConflict: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save new login: %w", err)
	}

	backgroundCtx := ul.Log.WithContext(context.Background())
	if err = ul.Client.Connect(backgroundCtx); err != nil {
		return nil, fmt.Errorf("failed to connect after login: %w", err)
	}

	go func() {
		log := ul.Log.With().Str("component", "login_sync_chats").Logger()
		if err := ul.Client.(*TelegramClient).SyncChats(log.WithContext(context.Background())); err != nil {
			log.Err(err).Msg("Failed to sync chats after login")
		}
	}()

	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       LoginStepIDComplete,
		Instructions: fmt.Sprintf("Successfully logged in as %s (%s)", remoteName, util.FormatFullName(tgUser.FirstName, tgUser.LastName, tgUser.Deleted, tgUser.ID)),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: ul.ID,
			UserLogin:   ul,
		},
	}, nil
}
