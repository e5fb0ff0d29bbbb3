package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label string
	color text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed}},
}

// Labels are padded so the bracketed states line up in one column.
const statusLabelWidth = 28

// renderStatusLine formats "  Label:   [STATE] message".
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusInfo]
	}
	state := "[" + style.label + "]"
	if message != "" {
		state += " " + message
	}
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", state)
	if !colorize {
		return line
	}
	return style.color.Sprint(line)
}

func renderSectionHeader(title string, colorize bool) string {
	line := "== " + title + " =="
	if !colorize {
		return line
	}
	return text.Colors{text.FgBlue, text.Bold}.Sprint(line)
}

func shouldColorize(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}
