//go:build !linux && !darwin

package beep

// No audio cue backend on these platforms yet.

func Init()      {}
func PlayStart() {}
func PlayEnd()   {}
func PlayError() {}
