// Package display renders device statuses as a text panel.
package display

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// Panel geometry of the 128x64 OLED with an 8x8 font.
const (
	Columns    = 15
	MaxMessage = 60
)

const tooLong = "message too long"

// Console draws a framed panel on an io.Writer, e.g. a terminal.
type Console struct {
	Writer io.Writer

	lock sync.Mutex
}

// NewConsole creates a Console.
func NewConsole(w io.Writer) *Console {
	return &Console{Writer: w}
}

// Draw implements device.Display.
func (c *Console) Draw(title, body string) error {
	var buf bytes.Buffer
	border := "+" + strings.Repeat("-", Columns) + "+\n"
	buf.WriteString(border)
	writeRow(&buf, clip(title, Columns), false)
	buf.WriteString(border)
	for _, row := range Layout(body) {
		writeRow(&buf, row, true)
	}
	buf.WriteString(border)

	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := c.Writer.Write(buf.Bytes())
	return err
}

// Layout splits a message into panel rows: explicit newlines are kept,
// other text is wrapped at Columns. Messages over MaxMessage runes are
// replaced by a notice.
func Layout(message string) []string {
	if utf8.RuneCountInString(message) > MaxMessage {
		message = tooLong
	}
	var rows []string
	for _, line := range strings.Split(message, "\n") {
		runes := []rune(line)
		for len(runes) > Columns {
			rows = append(rows, string(runes[:Columns]))
			runes = runes[Columns:]
		}
		rows = append(rows, string(runes))
	}
	return rows
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func writeRow(buf *bytes.Buffer, row string, center bool) {
	pad := Columns - utf8.RuneCountInString(row)
	left := 0
	if center {
		left = pad / 2
	}
	buf.WriteString("|")
	buf.WriteString(strings.Repeat(" ", left))
	buf.WriteString(row)
	buf.WriteString(strings.Repeat(" ", pad-left))
	buf.WriteString("|\n")
}
