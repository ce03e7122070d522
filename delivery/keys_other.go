//go:build !linux && !darwin

package delivery

import (
	"sync"

	"github.com/micmonay/keybd_event"
)

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

// sendPaste presses Ctrl+V.
func sendPaste() error {
	if err := initKeyboard(); err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	kb.HasCTRL(true)
	return kb.Launching()
}

func Verify() (string, error) {
	if err := initKeyboard(); err != nil {
		return "", err
	}
	return "keyboard event binding OK (Ctrl+V)", nil
}
