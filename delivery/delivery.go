// Package delivery places committed transcript text into the focused
// application, either by synthesizing keystrokes or through the system
// clipboard.
package delivery

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"
)

var errTypeUnsupported = errors.New("keystroke typing not supported on this platform")

type Mode int

const (
	// ModeType injects text as keystrokes, falling back to clipboard
	// paste when the text is too long to type.
	ModeType Mode = iota
	// ModeClipboard copies text to the clipboard without synthesizing
	// any keystroke.
	ModeClipboard
	// ModeOff disables delivery entirely.
	ModeOff
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "type", "":
		return ModeType, nil
	case "clipboard":
		return ModeClipboard, nil
	case "off":
		return ModeOff, nil
	}
	return ModeOff, fmt.Errorf("unknown delivery mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeType:
		return "type"
	case ModeClipboard:
		return "clipboard"
	case ModeOff:
		return "off"
	}
	return "unknown"
}

// restoreDelay is how long the previous clipboard contents stay replaced
// after a paste keystroke. Compositors read the selection asynchronously,
// so restoring too early delivers the old text instead.
const restoreDelay = 250 * time.Millisecond

type Deliverer struct {
	mode     Mode
	maxChars int

	// Clipboard access is indirected for tests.
	readAll  func() (string, error)
	writeAll func(string) error
	paste    func() error
	sleep    func(time.Duration)
}

// New returns a Deliverer for the given mode. maxChars bounds the keystroke
// route in ModeType; longer texts go through the clipboard instead.
func New(mode Mode, maxChars int) *Deliverer {
	return &Deliverer{
		mode:     mode,
		maxChars: maxChars,
		readAll:  cb.ReadAll,
		writeAll: cb.WriteAll,
		paste:    sendPaste,
		sleep:    time.Sleep,
	}
}

// Deliver hands text to the focused application according to the configured
// mode. It blocks until the text has been handed off (including the
// clipboard-restore delay on the paste route) and is safe to call from its
// own goroutine.
func (d *Deliverer) Deliver(text string) error {
	if text == "" || d.mode == ModeOff {
		return nil
	}
	if d.mode == ModeClipboard {
		return d.writeAll(text)
	}
	if typeSupported && len(text) <= d.maxChars {
		return typeText(text)
	}
	return d.pasteDeliver(text)
}

// pasteDeliver routes text through the clipboard: save what is there,
// replace it, send the paste chord, then put the original contents back.
func (d *Deliverer) pasteDeliver(text string) error {
	prev, prevErr := d.readAll()
	if err := d.writeAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	if err := d.paste(); err != nil {
		// Text is still on the clipboard; the user can paste manually.
		return fmt.Errorf("paste keystroke: %w", err)
	}
	if prevErr == nil {
		d.sleep(restoreDelay)
		if err := d.writeAll(prev); err != nil {
			return fmt.Errorf("clipboard restore: %w", err)
		}
	}
	return nil
}
