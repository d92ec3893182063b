package media

import (
	"fmt"
	"strings"
	"time"
)

var extensions = []struct{ match, ext string }{
	{"jpeg", ".jpg"},
	{"jpg", ".jpg"},
	{"png", ".png"},
	{"gif", ".gif"},
	{"webp", ".webp"},
	{"mp4", ".mp4"},
	{"3gpp", ".3gp"},
	{"webm", ".webm"},
	{"ogg", ".ogg"},
	{"amr", ".amr"},
	{"mpeg", ".mp3"},
	{"pdf", ".pdf"},
	{"vcard", ".vcf"},
	{"plain", ".txt"},
}

// Extension returns a file extension for mimeType, ".bin" when unknown.
func Extension(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	for _, e := range extensions {
		if strings.Contains(mimeType, e.match) {
			return e.ext
		}
	}
	return ".bin"
}

func folder(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "images"
	case strings.HasPrefix(mimeType, "video/"):
		return "videos"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "documents"
	}
}

// ObjectKey builds the storage key for one media object:
// users/<user>/<outbox|inbox>/<number>/<yyyy>/<mm>/<dd>/<folder>/<id><ext>
func ObjectKey(userID, number, objectID, mimeType string, incoming bool, at time.Time) string {
	direction := "outbox"
	if incoming {
		direction = "inbox"
	}
	if userID == "" {
		userID = "unassigned"
	}
	number = strings.NewReplacer("+", "", " ", "", "/", "_").Replace(number)

	return fmt.Sprintf("users/%s/%s/%s/%s/%s/%s/%s/%s%s",
		userID,
		direction,
		number,
		at.Format("2006"),
		at.Format("01"),
		at.Format("02"),
		folder(mimeType),
		objectID,
		Extension(mimeType),
	)
}
