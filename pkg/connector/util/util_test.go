package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.mau.fi/mautrix-telegram/pkg/connector/util"
)

func TestFormatFullName(t *testing.T) {
	assert.Equal(t, "John Smith", util.FormatFullName("John", "Smith", false, 1))
	assert.Equal(t, "John", util.FormatFullName("John", "", false, 1))
	assert.Equal(t, "Smith", util.FormatFullName("", "Smith", false, 1))
	assert.Equal(t, "", util.FormatFullName("", "", false, 1))
	assert.Equal(t, "Deleted account 12345", util.FormatFullName("John", "Smith", true, 12345))
}
