package sanitize

import (
	"regexp"
	"strings"
)

var (
	tagLike = regexp.MustCompile(`<[^>]*>?`)
	denied  = regexp.MustCompile("[$'\"`]")
)

// Clean reduces injection and markup risk in free-text user input. It
// strips HTML-tag-like runs, removes quote characters, backticks and
// dollar signs, and trims surrounding whitespace. Best effort only:
// this is not an HTML parser and makes no neutralization guarantees.
func Clean(s string) string {
	s = tagLike.ReplaceAllString(s, "")
	s = denied.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
