// Package ui holds the ANSI styling used by the CLI output. Commands talk
// in terms of roles (header, accent, muted) rather than raw color codes so
// the palette can change in one place.
package ui

const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	white  = "\033[97m"
)

func paint(code, s string) string {
	return code + s + reset
}

// Title styles a top-level banner, like the command name on a help screen.
func Title(s string) string { return paint(bold+cyan, s) }

// Header styles a section heading.
func Header(s string) string { return paint(bold+white, s) }

// Accent styles command names and other primary identifiers.
func Accent(s string) string { return paint(cyan, s) }

// Arg styles argument placeholders such as <command>.
func Arg(s string) string { return paint(yellow, s) }

// Muted styles secondary text like descriptions and hints.
func Muted(s string) string { return paint(dim, s) }

// Success styles confirmations and example invocations.
func Success(s string) string { return paint(green, s) }

// Error styles failure output.
func Error(s string) string { return paint(red, s) }
