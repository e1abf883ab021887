// Package normalize rewrites raw model output into canonical royal markdown.
// The transform is deterministic and does no I/O, so it can be tested without
// the completion provider.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/surajssc1232/royalai/app/persona"
)

var (
	spaceBeforePunct  = regexp.MustCompile(`\s+([,.!?;:])`)
	missingSpaceAfter = regexp.MustCompile(`([,.!?;:])([A-Za-z])`)
	spaceRuns         = regexp.MustCompile(`[ \t]{2,}`)
	numberedItem      = regexp.MustCompile(`^\d+[.)]\s`)
)

const fenceMarker = "```"

// Normalize converts raw completion text to the canonical display form:
// heading first, persona signature and horizontal rule last, fenced code
// verbatim, prose spacing fixed. Identical input always yields identical
// output.
func Normalize(raw string, p persona.Persona) string {
	if strings.TrimSpace(raw) == "" {
		return silence(p)
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines)+4)
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, fenceMarker) {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line) // code is never reformatted
			continue
		}
		switch {
		case trimmed == "":
			out = append(out, "")
		case strings.HasPrefix(trimmed, "#"):
			out = append(out, "", trimmed, "")
		case strings.HasPrefix(trimmed, ">"):
			out = append(out, quoteLine(trimmed))
		case isListItem(trimmed):
			out = append(out, line)
		case trimmed == "---":
			out = append(out, trimmed)
		default:
			out = append(out, prose(line))
		}
	}

	res := strings.Join(collapseBlanks(out), "\n")
	res = strings.Trim(res, "\n")

	if !strings.HasPrefix(res, "#") {
		res = p.Heading() + "\n\n" + res
	}
	if !strings.Contains(res, p.Signature()) {
		res += "\n\n" + p.Signature() + "\n\n---"
	}
	return res
}

// silence is returned for empty input instead of running the line pass
func silence(p persona.Persona) string {
	return fmt.Sprintf("%s\n\n> *The court is silent, for no words have reached the royal ear.*\n\n%s\n\n---",
		p.Heading(), p.Signature())
}

// collapseBlanks reduces runs of blank lines to a single blank line, leaving
// fenced regions untouched. Any run of two or more blanks collapses, stricter
// than the minimum of three, so spacing stays uniform around the blank lines
// the heading pass inserts. Fence state is recomputed because the line pass
// preserves fence markers as-is.
func collapseBlanks(lines []string) []string {
	res := make([]string, 0, len(lines))
	inFence, blankPending := false, false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
			inFence = !inFence
		}
		if !inFence && strings.TrimSpace(line) == "" {
			blankPending = true
			continue
		}
		if blankPending {
			res = append(res, "")
			blankPending = false
		}
		res = append(res, line)
	}
	return res
}

// quoteLine canonicalizes a blockquote to the italicized quoted form
func quoteLine(trimmed string) string {
	content := strings.TrimSpace(strings.TrimLeft(trimmed, "> "))
	content = strings.Trim(content, `*_"`)
	if content == "" {
		return ""
	}
	return "> *" + content + "*"
}

func isListItem(trimmed string) bool {
	return strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") ||
		numberedItem.MatchString(trimmed)
}

// prose fixes spacing in a regular text line: single spaces between words,
// no space before punctuation, one space after punctuation before a letter.
func prose(line string) string {
	s := spaceRuns.ReplaceAllString(strings.TrimSpace(line), " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = missingSpaceAfter.ReplaceAllString(s, "$1 $2")
	return s
}
