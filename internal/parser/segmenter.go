package parser

import (
	"regexp"
	"strings"
)

// DirectorLabel prefixes the director segment of the info block.
const DirectorLabel = "导演:"

// Segmenter isolates the raw director segment from the strip-joined info text.
type Segmenter interface {
	DirectorSegment(text string) (string, bool)
}

var doubleSpaceDirector = regexp.MustCompile(`导演:(.*?)(?:[ \x{00a0}]{2}|$)`)

// DoubleSpaceSegmenter ends the director segment at the first run of two
// spaces (ASCII or NBSP) or at the end of text. A single space between fields
// over-captures into the next field; the CJK name pass usually recovers.
type DoubleSpaceSegmenter struct{}

// DirectorSegment implements Segmenter.
func (DoubleSpaceSegmenter) DirectorSegment(text string) (string, bool) {
	m := doubleSpaceDirector.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var (
	cjkRun    = regexp.MustCompile(`[\x{4e00}-\x{9fff}·]+`)
	cjkLetter = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
)

// splitDirectors turns a raw segment into display names. Each name keeps text
// up to the end of its first CJK run when that holds a CJK letter, otherwise
// the whole trimmed token.
func splitDirectors(segment string) []string {
	var names []string
	for _, raw := range strings.Split(segment, "/") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if loc := cjkRun.FindStringIndex(name); loc != nil {
			if part := strings.TrimSpace(name[:loc[1]]); cjkLetter.MatchString(part) {
				name = part
			}
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
