//go:build !windows

package guard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"

	"firestige.xyz/packeteater/internal/core"
)

// moduleLoaded scans the memory maps of the current process for a mapping
// whose file name matches module. This covers the client running under Wine,
// where PE modules are mapped from their on-disk path.
func moduleLoaded(module string) (bool, error) {
	path, err := mappedPath(module)
	return path != "", err
}

func moduleDir(module string) (string, error) {
	path, err := mappedPath(module)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: %s", core.ErrModuleNotLoaded, module)
	}
	return filepath.Dir(path), nil
}

// mappedPath returns the path of the first mapping of module, or "".
func mappedPath(module string) (string, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "", fmt.Errorf("open self: %w", err)
	}
	maps, err := p.MemoryMaps(false)
	if err != nil {
		return "", fmt.Errorf("read memory maps: %w", err)
	}
	if maps == nil {
		return "", nil
	}
	for _, m := range *maps {
		if sameModule(m.Path, module) {
			return m.Path, nil
		}
	}
	return "", nil
}
