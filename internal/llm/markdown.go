package llm

import (
	"regexp"
	"strings"
)

var (
	// ![alt](url)
	reImageMD = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	// <img ...>
	reImageHTML = regexp.MustCompile(`(?is)<img[^>]*>`)
	// <!-- ... -->
	reComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	// Outer code fence some models wrap the whole answer in.
	reOuterFence = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*\\n(.*)\\n```$")
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkdown strips content a report page cannot show: images, HTML
// comments, a fence around the whole answer and runs of blank lines.
func CleanMarkdown(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if m := reOuterFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = reImageMD.ReplaceAllString(text, "")
	text = reImageHTML.ReplaceAllString(text, "")
	text = reComment.ReplaceAllString(text, "")
	text = reExcessiveNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
