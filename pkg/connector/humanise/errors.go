// Package humanise translates Telegram RPC error codes into messages that can
// be shown to users.
package humanise

import (
	"fmt"

	"github.com/gotd/td/tgerr"
)

// messages maps RPC error types (the code with numeric arguments stripped,
// e.g. FLOOD_WAIT for FLOOD_WAIT_42) to human-readable descriptions. Taken
// from https://core.telegram.org/api/errors and the community error DB.
var messages = map[string]string{
	"2FA_CONFIRM_WAIT":                    "The account is protected by two-factor authentication, deletion is delayed",
	"ACCESS_TOKEN_EXPIRED":                "Bot token expired",
	"ACCESS_TOKEN_INVALID":                "The provided token is not valid",
	"API_ID_INVALID":                      "The api_id/api_hash combination is invalid",
	"AUTH_KEY_DUPLICATED":                 "The session was used from two different IP addresses at once and is no longer valid",
	"AUTH_KEY_INVALID":                    "The authorization key is invalid",
	"AUTH_KEY_UNREGISTERED":               "The authorization key is not registered in the system",
	"AUTH_RESTART":                        "The login process must be restarted",
	"AUTH_TOKEN_ALREADY_ACCEPTED":         "The QR login token was already used",
	"AUTH_TOKEN_EXPIRED":                  "The QR code expired and must be re-scanned",
	"AUTH_TOKEN_INVALID":                  "An invalid QR login token was provided",
	"CHANNEL_INVALID":                     "The provided channel is invalid",
	"CHANNEL_PRIVATE":                     "You haven't joined this channel or supergroup",
	"CHAT_ADMIN_REQUIRED":                 "You must be an admin in this chat to do that",
	"CHAT_FORBIDDEN":                      "You can't write in this chat",
	"CHAT_ID_INVALID":                     "The provided chat ID is invalid",
	"CHAT_RESTRICTED":                     "The chat is restricted and cannot be used",
	"CHAT_SEND_GIFS_FORBIDDEN":            "You can't send gifs in this chat",
	"CHAT_SEND_MEDIA_FORBIDDEN":           "You can't send media in this chat",
	"CHAT_SEND_STICKERS_FORBIDDEN":        "You can't send stickers in this chat",
	"CHAT_WRITE_FORBIDDEN":                "You can't write in this chat",
	"CODE_EMPTY":                          "The provided code is empty",
	"CODE_INVALID":                        "The provided code is invalid",
	"EMAIL_UNCONFIRMED":                   "The email address is not yet confirmed",
	"FILE_ID_INVALID":                     "The provided file ID is invalid",
	"FILE_PARTS_INVALID":                  "The number of file parts is invalid",
	"FILE_PART_MISSING":                   "Part of the file is missing from storage",
	"FILE_REFERENCE_EXPIRED":              "The file reference expired and must be refreshed",
	"FILE_REFERENCE_INVALID":              "The file reference is invalid or expired",
	"FIRSTNAME_INVALID":                   "The first name is invalid",
	"FLOOD_WAIT":                          "Telegram is rate limiting the request, please wait before retrying",
	"FRESH_CHANGE_PHONE_FORBIDDEN":        "You can't change your phone number from a recently logged-in session",
	"FRESH_RESET_AUTHORISATION_FORBIDDEN": "You can't log out other sessions from a recently logged-in session",
	"HASH_INVALID":                        "The provided hash is invalid",
	"IMAGE_PROCESS_FAILED":                "Failure while processing the image",
	"INPUT_USER_DEACTIVATED":              "The specified user was deleted",
	"LASTNAME_INVALID":                    "The last name is invalid",
	"LIMIT_INVALID":                       "The provided limit is invalid",
	"LOCATION_INVALID":                    "The provided file location is invalid",
	"MEDIA_CAPTION_TOO_LONG":              "The caption is too long",
	"MEDIA_EMPTY":                         "The provided media is empty or invalid",
	"MEDIA_INVALID":                       "The provided media is invalid",
	"MESSAGE_DELETE_FORBIDDEN":            "You can't delete this message",
	"MESSAGE_EDIT_TIME_EXPIRED":           "The message can no longer be edited",
	"MESSAGE_EMPTY":                       "The message is empty",
	"MESSAGE_ID_INVALID":                  "The provided message ID is invalid",
	"MESSAGE_NOT_MODIFIED":                "The message content was not modified",
	"MESSAGE_TOO_LONG":                    "The message is too long",
	"MSG_ID_INVALID":                      "The provided message ID is invalid",
	"PASSWORD_HASH_INVALID":               "The two-factor authentication password is incorrect",
	"PASSWORD_REQUIRED":                   "A two-factor authentication password is required",
	"PEER_FLOOD":                          "Telegram is limiting this account for spam-like behavior",
	"PEER_ID_INVALID":                     "The provided peer ID is invalid",
	"PHONE_CODE_EMPTY":                    "The phone code is empty",
	"PHONE_CODE_EXPIRED":                  "The confirmation code expired",
	"PHONE_CODE_INVALID":                  "The confirmation code is invalid",
	"PHONE_NUMBER_BANNED":                 "The phone number is banned from Telegram",
	"PHONE_NUMBER_FLOOD":                  "You asked for a code too many times",
	"PHONE_NUMBER_INVALID":                "The phone number is invalid",
	"PHONE_NUMBER_OCCUPIED":               "The phone number is already in use",
	"PHONE_NUMBER_UNOCCUPIED":             "The phone number is not registered on Telegram",
	"PHONE_PASSWORD_FLOOD":                "You tried logging in too many times, please wait",
	"PHOTO_CROP_SIZE_SMALL":               "The photo is too small",
	"PHOTO_EXT_INVALID":                   "The photo file extension is invalid",
	"PHOTO_INVALID":                       "The provided photo is invalid",
	"PHOTO_INVALID_DIMENSIONS":            "The photo dimensions are invalid",
	"PHOTO_SAVE_FILE_INVALID":             "The photo could not be saved",
	"PINNED_DIALOGS_TOO_MUCH":             "Too many pinned chats",
	"POLL_OPTION_INVALID":                 "A poll option is invalid",
	"POLL_QUESTION_INVALID":               "The poll question is invalid",
	"QUERY_TOO_SHORT":                     "The search query is too short",
	"REACTIONS_TOO_MANY":                  "You can't send more reactions to this message",
	"REACTION_EMPTY":                      "The reaction is empty",
	"REACTION_INVALID":                    "The specified reaction is invalid or not allowed here",
	"REPLY_MESSAGE_ID_INVALID":            "The message being replied to is invalid",
	"SESSION_EXPIRED":                     "The session expired, please log in again",
	"SESSION_PASSWORD_NEEDED":             "Two-factor authentication is enabled, a password is needed",
	"SESSION_REVOKED":                     "The session was revoked from another device, please log in again",
	"SRP_ID_INVALID":                      "The two-factor authentication handshake expired, please try again",
	"SRP_PASSWORD_CHANGED":                "The two-factor authentication password changed, please try again",
	"STICKER_ID_INVALID":                  "The provided sticker ID is invalid",
	"TAKEOUT_INIT_DELAY":                  "Telegram delayed the data export, wait or confirm it from another device",
	"TAKEOUT_INVALID":                     "The data export session expired",
	"TIMEOUT":                             "Telegram failed to process the request in time, please try again",
	"USERNAME_INVALID":                    "The provided username is invalid",
	"USERNAME_NOT_OCCUPIED":               "The provided username is not registered to anyone",
	"USER_ALREADY_PARTICIPANT":            "The user is already a member of the chat",
	"USER_BANNED_IN_CHANNEL":              "This account is banned from sending messages in supergroups or channels",
	"USER_BLOCKED":                        "The user blocked you",
	"USER_DEACTIVATED":                    "This account was deleted or deactivated",
	"USER_DEACTIVATED_BAN":                "This account was deleted and banned",
	"USER_ID_INVALID":                     "The provided user ID is invalid",
	"USER_IS_BLOCKED":                     "You were blocked by this user",
	"USER_IS_BOT":                         "Bots can't send messages to other bots",
	"USER_MIGRATED":                       "The account is registered on a different datacenter",
	"USER_PRIVACY_RESTRICTED":             "The user's privacy settings don't allow this",
	"USER_RESTRICTED":                     "This account is restricted and can't perform that action",
	"VOICE_MESSAGES_FORBIDDEN":            "The user's privacy settings don't allow sending them voice messages",
	"WEBPAGE_CURL_FAILED":                 "Telegram failed to fetch the webpage",
	"YOU_BLOCKED_USER":                    "You blocked this user",
}

// Error returns a human-readable description for a Telegram RPC error. Errors
// that aren't RPC errors or don't have a known description are passed through
// as-is.
func Error(err error) string {
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return err.Error()
	}
	msg, ok := messages[rpcErr.Type]
	if !ok {
		return rpcErr.Message
	}
	if rpcErr.Argument != 0 {
		return fmt.Sprintf("%s (%d)", msg, rpcErr.Argument)
	}
	return msg
}
