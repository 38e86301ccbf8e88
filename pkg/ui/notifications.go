package ui

import (
	"fmt"
	"os/exec"
	"runtime"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

type linuxSender struct{}

func (linuxSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

type macSender struct{}

func (macSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// Notifier announces the end of long crawls. Desktop delivery is best
// effort; the message is always printed.
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks a sender for the current platform. With enabled false
// or on an unsupported platform it only prints.
func NewNotifier(enabled bool) *Notifier {
	if !enabled {
		return &Notifier{}
	}
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: linuxSender{}}
	case "darwin":
		return &Notifier{sender: macSender{}}
	default:
		return &Notifier{}
	}
}

// NewNotifierWithSender is used by tests
func NewNotifierWithSender(s NotificationSender) *Notifier {
	return &Notifier{sender: s}
}

// Success prints and sends a success notification
func (n *Notifier) Success(title, message string) {
	fmt.Fprintf(writer(false), "\n%s: %s\n", Green(title), message)
	n.send(title, message)
}

// Failure prints and sends a failure notification
func (n *Notifier) Failure(title, message string) {
	fmt.Fprintf(writer(true), "\n%s: %s\n", Red(title), Red(message))
	n.send(title, message)
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		_ = n.sender.Send(title, message)
	}
}
