package models

import (
	"fmt"
	"strings"
)

// RenderButtons renders an interactive button message as numbered plain text,
// for channels or failures where buttons cannot be delivered.
func RenderButtons(body string, buttons []Button) string {
	var b strings.Builder
	b.WriteString(body)
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
	}
	return b.String()
}

// RenderList renders a list message as numbered plain text. Numbering runs
// across sections so the client can answer with a single number.
func RenderList(body string, sections []ListSection) string {
	var b strings.Builder
	b.WriteString(body)
	n := 0
	for _, s := range sections {
		if s.Title != "" && len(sections) > 1 {
			b.WriteString("\n\n" + s.Title)
		}
		for _, row := range s.Rows {
			n++
			fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
			if row.Description != "" {
				b.WriteString(" (" + row.Description + ")")
			}
		}
	}
	return b.String()
}
