package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Banner is printed at the top of interactive commands
const Banner = `
  ╔════════════════════════════════════════════╗
  ║  twcrawl · resumable Twitter harvest       ║
  ╚════════════════════════════════════════════╝
`

var (
	mu      sync.Mutex
	out     io.Writer = os.Stdout
	colored           = true
	quiet   bool
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

func colorize(format string) func(string) string {
	return func(text string) string {
		mu.Lock()
		on := colored
		mu.Unlock()
		if !on {
			return text
		}
		return fmt.Sprintf(format, text)
	}
}

// SetOutput redirects everything the package prints. nil restores stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// SetColor turns ANSI colors on or off
func SetColor(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colored = enabled
}

// SetQuietMode suppresses everything but errors
func SetQuietMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = enabled
}

func writer(always bool) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if quiet && !always {
		return io.Discard
	}
	return out
}

// PrintBanner prints the banner
func PrintBanner() {
	fmt.Fprint(writer(false), Cyan(Banner))
}

// PrintError prints an error message in red. It is shown in quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(writer(true), Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(writer(false), Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(writer(false), "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(writer(false), Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(writer(false), Magenta(msg))
}
