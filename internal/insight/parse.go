package insight

import (
	"regexp"
	"strings"

	"github.com/ashureev/coparent-ritual/internal/domain"
)

const headlineTrimmer = "#*\"'“”_ "

var (
	listMarker    = regexp.MustCompile(`^(?:[-•]+\s*|\*+(?:\s+|$)|\(?\d+[.)](?:\s+|$))`)
	labelHeadline = regexp.MustCompile(`(?i)^\**headline\**\s*:\**\s*`)
	labelMessage  = regexp.MustCompile(`(?i)^\**message\**\s*:\**\s*`)
)

// nonEmptyLines splits raw into trimmed, non-blank lines.
func nonEmptyLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseConflictExplanation splits a conflict response into the explanation
// and the follow-up question. The question is the last line when it contains
// a question mark; otherwise DefaultQuestion is used and that line stays part
// of the explanation.
func ParseConflictExplanation(raw string) (explanation, question string) {
	lines := nonEmptyLines(raw)
	if len(lines) == 0 {
		return "", DefaultQuestion
	}

	last := lines[len(lines)-1]
	if strings.Contains(last, "?") {
		return strings.Join(lines[:len(lines)-1], " "), last
	}
	return strings.Join(lines, " "), DefaultQuestion
}

// ParseList extracts one item per non-empty line, dropping bullet and
// numbering markers.
func ParseList(raw string) []string {
	items := []string{}
	for _, line := range nonEmptyLines(raw) {
		item := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseAffirmation reads a headline and a message from raw. Both
// "Headline: ...\nMessage: ..." and a bare "headline\nmessage" layout are
// accepted. ok is false when nothing usable was found.
func ParseAffirmation(raw string) (a domain.Affirmation, ok bool) {
	lines := nonEmptyLines(raw)
	if len(lines) == 0 {
		return domain.Affirmation{}, false
	}

	var rest []string
	for _, line := range lines {
		switch {
		case labelHeadline.MatchString(line) && a.Headline == "":
			a.Headline = cleanHeadline(labelHeadline.ReplaceAllString(line, ""))
		case labelMessage.MatchString(line):
			rest = append(rest, labelMessage.ReplaceAllString(line, ""))
		default:
			rest = append(rest, line)
		}
	}

	if a.Headline == "" {
		if len(rest) == 1 {
			a.Headline = DefaultHeadline
		} else {
			a.Headline = cleanHeadline(rest[0])
			rest = rest[1:]
		}
	}
	a.Message = strings.TrimSpace(strings.Join(rest, " "))
	if a.Message == "" {
		a.Message = DefaultAffirmationMessage
	}
	return a, true
}

func cleanHeadline(s string) string {
	s = strings.Trim(strings.TrimSpace(s), headlineTrimmer)
	if s == "" {
		return DefaultHeadline
	}
	return s
}
