package forward

import (
	"errors"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrNoFilename is returned by ParseFilenameStrict when the header has none.
var ErrNoFilename = errors.New("no filename in content disposition")

var (
	reExtended = regexp.MustCompile(`(?i)filename\*\s*=\s*([^']*)'[^']*'([^;]+)`)
	rePlain    = regexp.MustCompile(`(?i)filename\s*=\s*("([^"]*)"|[^;]+)`)
)

// ParseFilename extracts the attachment file name from a Content-Disposition
// header. The RFC 5987 extended form (filename*=) wins over plain filename=.
// It returns "" when the header carries no usable name.
func ParseFilename(header string) string {
	name, _ := ParseFilenameStrict(header)
	return name
}

// ParseFilenameStrict is ParseFilename that reports a missing name as ErrNoFilename.
func ParseFilenameStrict(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoFilename
	}
	if name := extendedFilename(header); name != "" {
		return clean(name), nil
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" && utf8.ValidString(name) {
			return clean(name), nil
		}
	}
	if m := rePlain.FindStringSubmatch(header); m != nil {
		name := m[2]
		if name == "" {
			name = strings.TrimSpace(m[1])
		}
		if name != "" {
			return clean(name), nil
		}
	}
	return "", ErrNoFilename
}

// extendedFilename decodes an RFC 5987 filename* value. UTF-8 and ASCII
// bytes are taken as they are; ISO-8859-1 bytes are transcoded. Any other
// charset yields "" so the plain filename= is used instead.
func extendedFilename(header string) string {
	m := reExtended.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	raw, err := url.PathUnescape(strings.TrimSpace(m[2]))
	if err != nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(m[1])) {
	case "", "utf-8", "us-ascii":
		if !utf8.ValidString(raw) {
			return ""
		}
		return raw
	case "iso-8859-1", "latin1":
		decoded, err := charmap.ISO8859_1.NewDecoder().String(raw)
		if err != nil {
			return ""
		}
		return decoded
	default:
		return ""
	}
}

// clean drops any directory part so the name is safe to relay.
func clean(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
