package cache

import "strings"

// Key builds the pipe-delimited cache key described for the response
// cache: <origin-path>|<raw-transform-string>|<format-string>.
func Key(path, rawTransform, format string) string {
	return path + "|" + rawTransform + "|" + format
}

// persistentKey rewrites a pipe-delimited key into an object-store key by
// replacing '|' with '/' and collapsing runs of '/'.
func persistentKey(key string) string {
	replaced := strings.ReplaceAll(key, "|", "/")
	for strings.Contains(replaced, "//") {
		replaced = strings.ReplaceAll(replaced, "//", "/")
	}
	return replaced
}
