// Package wamarkdown converts markdown-ish agent output into the
// WhatsApp formatting subset: *bold*, _italic_, ~strike~, monospace code
// kept verbatim, headings and links flattened to plain text.
package wamarkdown

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	linkRe       = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)\s]+)(?:[ \t]+"[^"]*")?\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	bulletRe     = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
	quoteRe      = regexp.MustCompile(`(?m)^>[ \t]?`)
	boldStarRe   = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__([^_\n]+)__`)
	strikeRe     = regexp.MustCompile(`~~([^~\n]+)~~`)
	italicStarRe = regexp.MustCompile(`\*([^*\n]+)\*`)
)

// Render rewrites md for WhatsApp. Code spans and fenced blocks are
// stashed behind placeholders first so no other rule touches them.
func Render(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}

	// Placeholder markers must not collide with message content.
	text := strings.ReplaceAll(md, "\x00", "")
	text = strings.ReplaceAll(text, "\x01", "")
	text, stash := stashCode(text)

	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		label := strings.TrimSpace(sub[1])
		if label == "" {
			return sub[2]
		}
		return label + " (" + sub[2] + ")"
	})
	// Headings write the temporary bold byte directly so the single-star
	// italic rule below cannot re-match them.
	text = headingRe.ReplaceAllString(text, "\x01$1\x01")
	text = bulletRe.ReplaceAllString(text, "${1}- ")
	text = quoteRe.ReplaceAllString(text, "> ")

	// Double markers first, via a temporary byte so the single-star
	// italic rule cannot eat freshly written bold markers.
	text = boldStarRe.ReplaceAllString(text, "\x01$1\x01")
	text = boldUnderRe.ReplaceAllString(text, "\x01$1\x01")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = italicStarRe.ReplaceAllString(text, "_${1}_")
	text = strings.ReplaceAll(text, "\x01", "*")

	for i, code := range stash {
		text = strings.Replace(text, placeholder(i), code, 1)
	}
	return strings.TrimSpace(text)
}

func stashCode(text string) (string, []string) {
	var b strings.Builder
	b.Grow(len(text))
	var stash []string

	for i := 0; i < len(text); i++ {
		if strings.HasPrefix(text[i:], "```") {
			end := strings.Index(text[i+3:], "```")
			if end < 0 {
				b.WriteString(text[i:])
				break
			}
			block := text[i : i+3+end+3]
			stash = append(stash, block)
			b.WriteString(placeholder(len(stash) - 1))
			i += len(block) - 1
			continue
		}
		if text[i] == '`' {
			end := strings.IndexByte(text[i+1:], '`')
			if end < 0 {
				b.WriteByte('`')
				continue
			}
			span := text[i : i+1+end+1]
			stash = append(stash, span)
			b.WriteString(placeholder(len(stash) - 1))
			i += len(span) - 1
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String(), stash
}

func placeholder(i int) string {
	return fmt.Sprintf("\x00code%d\x00", i)
}
