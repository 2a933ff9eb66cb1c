package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	tag  string
	attr color.Attribute
}{
	statusInfo:  {"INFO", color.FgBlue},
	statusOK:    {"OK", color.FgGreen},
	statusWarn:  {"WARN", color.FgYellow},
	statusError: {"ERROR", color.FgRed},
}

// paint forces color on; callers only ask for it after checking the writer.
func paint(s string, attrs ...color.Attribute) string {
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(s)
}

// renderStatusLine formats "  Label:   [TAG] message" with the label padded
// so doctor output lines up.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusStyles[kind]
	line := fmt.Sprintf("  %-24s [%s]", label+":", style.tag)
	if message != "" {
		line += " " + message
	}
	if colorize {
		return paint(line, style.attr)
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	if colorize {
		return []string{paint(heading, color.FgBlue, color.Bold), paint(rule, color.FgBlue, color.Bold)}
	}
	return []string{heading, rule}
}
