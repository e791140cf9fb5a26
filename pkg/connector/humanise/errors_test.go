package humanise_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"

	"go.mau.fi/mautrix-telegram/pkg/connector/humanise"
)

func TestError(t *testing.T) {
	assert.Equal(t,
		"The confirmation code is invalid",
		humanise.Error(tgerr.New(400, "PHONE_CODE_INVALID")))

	// Numeric arguments get stripped from the type and appended to the text.
	assert.Equal(t,
		"Telegram is rate limiting the request, please wait before retrying (42)",
		humanise.Error(tgerr.New(420, "FLOOD_WAIT_42")))

	// Unknown RPC errors pass the raw message through.
	assert.Equal(t,
		"SOME_NEW_ERROR",
		humanise.Error(tgerr.New(400, "SOME_NEW_ERROR")))

	// Wrapped RPC errors are still recognized.
	wrapped := fmt.Errorf("failed to send code: %w", tgerr.New(400, "PHONE_NUMBER_INVALID"))
	assert.Equal(t, "The phone number is invalid", humanise.Error(wrapped))

	// Non-RPC errors are returned verbatim.
	assert.Equal(t, "plain error", humanise.Error(errors.New("plain error")))
}
