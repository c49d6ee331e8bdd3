package textutil

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\((?:https?://|mailto:)[^)]*\)`)
	bareURLRe      = regexp.MustCompile(`<https?://[^>]+>`)
	separatorRe    = regexp.MustCompile(`(?m)^\s*[-_=*~]{3,}\s*$`)
	spacesRe       = regexp.MustCompile(`[ \t]+`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	looksHTMLRe    = regexp.MustCompile(`(?i)<(html|body|div|p|br|table|span|a)\b`)

	footerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunsubscribe\b`),
		regexp.MustCompile(`(?i)\bprivacy policy\b`),
		regexp.MustCompile(`(?i)\bview (this email )?in (your )?browser\b`),
		regexp.MustCompile(`(?i)\bmanage (your )?(email )?preferences\b`),
		regexp.MustCompile(`(?i)\bthis (email|message) was sent to \S+@\S+`),
		regexp.MustCompile(`(?i)\bsent to \S+@\S+`),
		regexp.MustCompile(`(?i)(©|\(c\)|copyright)\s*\d{4}`),
		regexp.MustCompile(`(?i)\ball rights reserved\b`),
	}
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "ul": true, "ol": true,
	"table": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true, "article": true, "header": true, "footer": true,
}

// CleanEmailBody turns a raw email body (plain text or HTML) into compact
// readable text: markup stripped, entities decoded, link targets dropped,
// boilerplate footer lines removed and whitespace collapsed.
func CleanEmailBody(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	text := body
	if looksHTMLRe.MatchString(text) {
		text = htmlToText(text)
	} else {
		text = html.UnescapeString(text)
	}

	text = strings.NewReplacer(
		"\r\n", "\n",
		"\r", "\n",
		"\u00a0", " ",
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\ufeff", "",
	).Replace(text)

	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = bareURLRe.ReplaceAllString(text, "")
	text = separatorRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
		if isFooterLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isFooterLine(line string) bool {
	if line == "" {
		return false
	}
	for _, re := range footerPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				skip++
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				if skip > 0 {
					skip--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}
