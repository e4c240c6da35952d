package tswatch

import (
	"net/url"
	"strings"
)

// SanitizeDisplayPath validates a slash-delimited display path and returns it
// with every segment percent-encoded. It is the only way a display path may
// reach a request URL.
//
// Empty segments are dropped, so leading, trailing and doubled slashes are
// tolerated. A segment equal to "." or "..", before or after decoding, is
// rejected, as is one that decodes to a slash or backslash. Segments that
// only contain dots ("file..ext") pass through.
func SanitizeDisplayPath(raw string) (string, error) {
	segments := make([]string, 0, strings.Count(raw, "/")+1)
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return "", securityError("path cannot be empty")
	}

	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if isDotSegment(seg) {
			return "", securityError("path traversal")
		}
		// An already encoded segment is decoded once so that sanitizing a
		// sanitized path is a no-op. Invalid escapes are literal text.
		decoded := seg
		if u, err := url.PathUnescape(seg); err == nil {
			decoded = u
		}
		if isDotSegment(decoded) || strings.ContainsAny(decoded, `/\`) {
			return "", securityError("path traversal")
		}
		out = append(out, escapeSegment(decoded))
	}
	return strings.Join(out, "/"), nil
}

func isDotSegment(seg string) bool {
	return seg == "." || seg == ".."
}

// componentUnescaper undoes the QueryEscape choices that differ from
// encodeURIComponent. Matches only start at '%', so an escaped '%' ("%25")
// followed by literal text is never touched.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// escapeSegment percent-encodes a segment the way encodeURIComponent does:
// letters, digits and -_.!~*'() stay, everything else is escaped.
func escapeSegment(seg string) string {
	return componentUnescaper.Replace(url.QueryEscape(seg))
}
