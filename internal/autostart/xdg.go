//go:build !windows

package autostart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// autostartDir is the XDG autostart directory; replaced in tests.
var autostartDir = func() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "autostart"), nil
}

func desktopFile(name string) (string, error) {
	dir, err := autostartDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".desktop"), nil
}

func IsEnabled(name string) (bool, error) {
	path, err := desktopFile(name)
	if err != nil {
		return false, err
	}

	if _, err = os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

func Enable(e Item) error {
	path, err := desktopFile(e.Name)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	content := fmt.Sprintf("[Desktop Entry]\nType=Application\nName=%s\nExec=%s\nX-GNOME-Autostart-enabled=true\n", e.Name, e.Command())
	return os.WriteFile(path, []byte(content), 0o644)
}

func Disable(name string) error {
	path, err := desktopFile(name)
	if err != nil {
		return err
	}

	if err = os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
