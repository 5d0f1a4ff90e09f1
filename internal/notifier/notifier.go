// Package notifier provides the notify.Notifier implementations used by the
// CLI: desktop notifications for the long-running watcher and a plain
// writer for one-shot commands.
package notifier

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/forest6511/aipulse/pkg/notify"
)

// ErrUnsupported is returned by Desktop on platforms without a known
// notification command.
var ErrUnsupported = errors.New("notifier: desktop notifications not supported on this platform")

// AppName is shown as the notification source where the platform allows it.
const AppName = "AI Pulse"

// Runner executes an external command.
type Runner func(name string, args ...string) error

func execRunner(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("notifier: %s failed: %w: %s", name, err, out)
	}
	return nil
}

// Desktop shows notifications through the platform notification command:
// notify-send on Linux and osascript on macOS.
type Desktop struct {
	goos string
	run  Runner
}

// NewDesktop returns a Desktop notifier for the running platform.
func NewDesktop() *Desktop {
	return &Desktop{goos: runtime.GOOS, run: execRunner}
}

// Show implements notify.Notifier.
func (d *Desktop) Show(title, body string) error {
	switch d.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return d.run("notify-send", "--app-name="+AppName, title, body)
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(body), appleScriptString(title))
		return d.run("osascript", "-e", script)
	default:
		return ErrUnsupported
	}
}

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// appleScriptString quotes s as an AppleScript string literal, which only
// knows the \\ and \" escapes. Other characters pass through as UTF-8.
func appleScriptString(s string) string {
	return `"` + appleScriptEscaper.Replace(s) + `"`
}

// Writer prints notifications as lines of text.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer printing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Show implements notify.Notifier.
func (w *Writer) Show(title, body string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.w, "[%s] %s\n", title, body)
	return err
}

// Multi shows every notification on all notifiers and fails if any fails.
type Multi []notify.Notifier

// Show implements notify.Notifier.
func (m Multi) Show(title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Show(title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
