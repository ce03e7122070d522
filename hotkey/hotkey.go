// Package hotkey watches for the global Ctrl+Shift+Space chord that drives
// recording. On Linux it reads evdev devices directly; elsewhere it goes
// through the windowing system's global shortcut API.
package hotkey

type Hotkey interface {
	Register() error
	Unregister()
	// Keydown and Keyup deliver chord transitions. Both channels are
	// buffered with capacity 1 and drop events when the consumer lags.
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}
