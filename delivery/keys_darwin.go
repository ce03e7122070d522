//go:build darwin

package delivery

import (
	"sync"

	"github.com/micmonay/keybd_event"
)

// macOS has no per-character keycode route here; everything in ModeType
// goes through the clipboard paste path.
const typeSupported = false

var (
	kb     keybd_event.KeyBonding
	kbOnce sync.Once
	kbErr  error
)

func initKeyboard() error {
	kbOnce.Do(func() {
		kb, kbErr = keybd_event.NewKeyBonding()
	})
	return kbErr
}

func typeText(string) error {
	return errTypeUnsupported
}

// sendPaste presses Cmd+V.
func sendPaste() error {
	if err := initKeyboard(); err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	kb.HasSuper(true)
	return kb.Launching()
}

func Verify() (string, error) {
	if err := initKeyboard(); err != nil {
		return "", err
	}
	return "keyboard event binding OK (Cmd+V)", nil
}
