package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/esiebomaj/commander/internal/textutil"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// msgOut receives status lines. Data for piping goes to stdout.
var msgOut io.Writer = os.Stderr

func say(color, glyph, format string, args ...any) {
	fmt.Fprintln(msgOut, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { say(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { say(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { say(colorYellow, "⚠", format, args...) }
func printStep(format string, args ...any)    { say(colorCyan, "→", format, args...) }

// printStatus prints an aligned "label: value" row of `commander status`.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(msgOut, "  %-12s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// statusColor picks the color for an action status.
func statusColor(status string) string {
	switch status {
	case "executed":
		return colorGreen
	case "error":
		return colorRed
	case "skipped":
		return colorDim
	default:
		return colorYellow
	}
}

// oneLine flattens s and cuts it to n runes.
func oneLine(s string, n int) string {
	return textutil.Preview(strings.Join(strings.Fields(s), " "), n)
}
