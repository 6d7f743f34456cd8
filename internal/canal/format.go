package canal

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	headerRe      = regexp.MustCompile(`(?m)^#{1,4}\s+(.+)$`)
	boldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikeRe      = regexp.MustCompile(`~~(.+?)~~`)
	imageRe       = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// FormatMrkdwn converts the assistant's Markdown output into Slack's mrkdwn
// dialect. Fenced code blocks are carved out first so their contents survive
// untouched.
func FormatMrkdwn(text string) string {
	if text == "" {
		return ""
	}

	var fences []string
	text = fencedBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		fences = append(fences, block)
		return fencePlaceholder(len(fences) - 1)
	})

	// Tables go first: their cells may contain the other constructs.
	text = tablesToBullets(text)

	text = headerRe.ReplaceAllStringFunc(text, func(line string) string {
		content := strings.TrimSpace(strings.TrimLeft(line, "#"))
		content = boldRe.ReplaceAllString(content, "$1")
		return "*" + content + "*"
	})

	text = boldRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	text = imageRe.ReplaceAllString(text, "<$2|$1>")
	text = linkRe.ReplaceAllString(text, "<$2|$1>")

	for i, block := range fences {
		text = strings.Replace(text, fencePlaceholder(i), block, 1)
	}
	return text
}

func fencePlaceholder(i int) string {
	return fmt.Sprintf("\x00fence:%d\x00", i)
}

// tablesToBullets rewrites markdown tables as bullet lists; Slack has no
// native table rendering. A table is a pipe row followed by a divider row.
func tablesToBullets(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); {
		if !isTableLine(lines[i]) || i+1 >= len(lines) || !isDividerLine(lines[i+1]) {
			out = append(out, lines[i])
			i++
			continue
		}

		headers := splitCells(lines[i])
		i += 2
		for i < len(lines) && isTableLine(lines[i]) && !isDividerLine(lines[i]) {
			out = append(out, bulletRow(headers, splitCells(lines[i])))
			i++
		}
	}
	return strings.Join(out, "\n")
}

func bulletRow(headers, cells []string) string {
	if len(headers) == 1 {
		v := ""
		if len(cells) > 0 {
			v = cells[0]
		}
		return "• " + v
	}

	pairs := make([]string, 0, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		pairs = append(pairs, "*"+h+":* "+v)
	}
	return "• " + strings.Join(pairs, " · ")
}

func isTableLine(line string) bool {
	return strings.Contains(strings.TrimSpace(line), "|")
}

func isDividerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "|") || !strings.Contains(trimmed, "-") {
		return false
	}
	return strings.NewReplacer("|", "", "-", "", ":", "", " ", "").Replace(trimmed) == ""
}

func splitCells(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}
