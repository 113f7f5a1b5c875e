package timesheet

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.Table))
	})
	return markdown
}

// Markdown renders the sheet as two GFM tables.
func (s Sheet) Markdown() string {
	var sb strings.Builder
	if len(s.Meta) > 0 {
		writeTable(&sb, padRow(s.Meta[0], 2), padRows(s.Meta[1:], 2))
		sb.WriteString("\n")
	}
	body := append(append([][]string(nil), s.Rows...), s.Sum)
	writeTable(&sb, s.Header, body)
	return sb.String()
}

// HTML renders the sheet as a standalone HTML document.
func (s Sheet) HTML() (string, error) {
	var body bytes.Buffer
	if err := getMarkdown().Convert([]byte(s.Markdown()), &body); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	sb.WriteString(html.EscapeString(s.Name))
	sb.WriteString("</title>\n<style>")
	sb.WriteString("html{font-size:8px;font-family:Arial,Helvetica,sans-serif}")
	sb.WriteString("table{text-align:left;border-collapse:collapse;margin-bottom:16px}")
	sb.WriteString("table+table th,table+table td{border:1px solid black}")
	sb.WriteString("th,td{padding:4px 8px}")
	sb.WriteString("</style>\n</head>\n<body>\n")
	sb.Write(body.Bytes())
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}

func writeTable(sb *strings.Builder, header []string, rows [][]string) {
	writeRow(sb, header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sb, sep)
	for _, r := range rows {
		writeRow(sb, padRow(r, len(header)))
	}
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeCell(c))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"\n", " ",
	"<", "&lt;",
	">", "&gt;",
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
)

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}

func padRow(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}

func padRows(rows [][]string, n int) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = padRow(r, n)
	}
	return out
}
