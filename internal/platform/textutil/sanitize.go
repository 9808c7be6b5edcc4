package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var freeTextPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips all markup from user-supplied free text and trims
// surrounding whitespace. Used for notes, reasons, and dispute descriptions
// that are rendered back to other parties.
func SanitizeFreeText(value string) string {
	return strings.TrimSpace(freeTextPolicy.Sanitize(value))
}
