package store

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// fileName maps a record key to a filesystem-safe name. The readable prefix
// helps when browsing the directory; the hash suffix keeps distinct keys
// distinct after sanitizing.
func fileName(key string) string {
	hash := md5.Sum([]byte(key))
	prefix := sanitizeKey(key)
	if len(prefix) > 80 {
		prefix = prefix[:80]
	}
	return fmt.Sprintf("%s-%x.json", prefix, hash[:6])
}

// sanitizeKey replaces characters that are unsafe in file names.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"#", "_",
		"&", "_",
		"=", "_",
		" ", "_",
		"%", "_",
	)
	return replacer.Replace(key)
}
