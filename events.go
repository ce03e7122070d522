package main

// EventSink is the display layer behind the recording loop: the Bubble
// Tea TUI in interactive runs, a line printer in test mode, nothing in
// daemon mode. Methods are called from pipeline goroutines and must
// not block.
type EventSink interface {
	RecordingStart()
	RecordingStop()
	RecordingTick(seconds float64)
	AudioLevel(rms float64)
	Partial(text string)
	Committed(text string, confidence float64)
	ConnLine(text string)
	DeviceLine(text string)
	Warning(text string)
	ClearWarning()
	UpdateAvailable(version string)
}

// nullSink drops every event, for background runs without a display.
type nullSink struct{}

func (nullSink) RecordingStart()           {}
func (nullSink) RecordingStop()            {}
func (nullSink) RecordingTick(float64)     {}
func (nullSink) AudioLevel(float64)        {}
func (nullSink) Partial(string)            {}
func (nullSink) Committed(string, float64) {}
func (nullSink) ConnLine(string)           {}
func (nullSink) DeviceLine(string)         {}
func (nullSink) Warning(string)            {}
func (nullSink) ClearWarning()             {}
func (nullSink) UpdateAvailable(string)    {}
