package segment

import (
	"regexp"
	"strings"
)

var (
	reFencedCode  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode  = regexp.MustCompile("`([^`]*)`")
	reImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	reURL         = regexp.MustCompile(`https?://\S+`)
	reEmphasis    = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	reStrike      = regexp.MustCompile(`~~(.*?)~~`)
	reHeading     = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	reBlockquote  = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	reListMarker  = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d{1,3}[.)])\s+`)
	reHTMLTag     = regexp.MustCompile(`<[^>\n]+>`)
	reTableRule   = regexp.MustCompile(`(?m)^\s*\|?[-:| ]+\|?\s*$`)
	rePipe        = regexp.MustCompile(`\s*\|\s*`)
	reSymbolRun   = regexp.MustCompile("[\\p{So}\\p{Sk}\\p{Cs}#*_~^=+\\\\{}<>\\[\\]]+")
	reSpaceRun    = regexp.MustCompile(`[ \t]+`)
	reNewlineRun  = regexp.MustCompile(`\n{2,}`)
	reSpaceBefore = regexp.MustCompile(`\s+([.,!?;:…])`)
)

// Speakable strips markdown structure and other unpronounceable noise from a
// chunk right before synthesis. Chunking already happened on the raw text,
// so cleanup here never shifts sentence boundaries.
func Speakable(raw string) string {
	t := raw

	t = reFencedCode.ReplaceAllString(t, " ")
	t = reImage.ReplaceAllString(t, "$1")
	t = reLink.ReplaceAllString(t, "$1")
	t = reInlineCode.ReplaceAllString(t, "$1")
	t = reURL.ReplaceAllString(t, "")
	t = reStrike.ReplaceAllString(t, "$1")
	t = reEmphasis.ReplaceAllString(t, "$2")
	t = reHeading.ReplaceAllString(t, "")
	t = reBlockquote.ReplaceAllString(t, "")
	t = reListMarker.ReplaceAllString(t, "")
	t = reTableRule.ReplaceAllString(t, "")
	t = rePipe.ReplaceAllString(t, ", ")
	t = reHTMLTag.ReplaceAllString(t, "")
	t = reSymbolRun.ReplaceAllString(t, " ")

	t = reSpaceRun.ReplaceAllString(t, " ")
	t = reNewlineRun.ReplaceAllString(t, "\n")
	t = reSpaceBefore.ReplaceAllString(t, "$1")

	return strings.TrimSpace(t)
}
