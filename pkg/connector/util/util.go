package util

import (
	"fmt"
	"strings"
)

// FormatFullName combines a Telegram first and last name into one display
// name. Deleted accounts have no name left, so they get a placeholder based
// on the user ID.
func FormatFullName(firstName, lastName string, deleted bool, userID int64) string {
	if deleted {
		return fmt.Sprintf("Deleted account %d", userID)
	}
	return strings.TrimSpace(firstName + " " + lastName)
}
