//go:build windows

package guard

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"

	"firestige.xyz/packeteater/internal/core"
)

// moduleLoaded asks the loader for module without taking a reference on it.
func moduleLoaded(module string) (bool, error) {
	h, err := moduleHandle(module)
	switch {
	case err == nil:
		return h != 0, nil
	case errors.Is(err, windows.ERROR_MOD_NOT_FOUND):
		return false, nil
	default:
		return false, fmt.Errorf("GetModuleHandleEx(%s): %w", module, err)
	}
}

func moduleDir(module string) (string, error) {
	h, err := moduleHandle(module)
	if errors.Is(err, windows.ERROR_MOD_NOT_FOUND) || (err == nil && h == 0) {
		return "", fmt.Errorf("%w: %s", core.ErrModuleNotLoaded, module)
	}
	if err != nil {
		return "", fmt.Errorf("GetModuleHandleEx(%s): %w", module, err)
	}

	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("GetModuleFileName(%s): %w", module, err)
	}
	return filepath.Dir(windows.UTF16ToString(buf[:n])), nil
}

func moduleHandle(module string) (windows.Handle, error) {
	name, err := windows.UTF16PtrFromString(module)
	if err != nil {
		return 0, fmt.Errorf("module name %q: %w", module, err)
	}
	var h windows.Handle
	err = windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, name, &h)
	return h, err
}
