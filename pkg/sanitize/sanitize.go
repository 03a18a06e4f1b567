package sanitize

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameBytes = 200

// stripped are removed outright: path separators and characters that could
// break out of a quoted header value.
var stripped = strings.NewReplacer(
	"\x00", "",
	"\n", "",
	"\r", "",
	`"`, "",
	"'", "",
	`\`, "",
	"/", "",
)

// Filename removes characters that allow header injection or path traversal.
// It never returns an empty string.
func Filename(name string) string {
	name = stripped.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "download"
	}
	return truncate(name, maxFilenameBytes)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ForHeader is Filename restricted to ASCII.
func ForHeader(name string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '_'
		}
		return r
	}, Filename(name))
}

// ContentDisposition builds an attachment header carrying an ASCII fallback
// and the UTF-8 name (RFC 6266).
func ContentDisposition(name string) string {
	safe := Filename(name)
	return `attachment; filename="` + ForHeader(name) + `"; filename*=UTF-8''` + url.PathEscape(safe)
}
