package shim

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/guard"
)

const (
	// DefaultGameModule is the retail client module.
	DefaultGameModule = "FFXiMain.dll"

	patchFile = "patch.cfg"
)

// PatchVersion reads the client version from <installDir>/patch.cfg: the
// first space separated token of the second line. Any failure yields
// core.UnknownVersion.
func PatchVersion(installDir string) string {
	f, err := os.Open(filepath.Join(installDir, patchFile))
	if err != nil {
		return core.UnknownVersion
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var line string
	for i := 0; i < 2; i++ {
		if !sc.Scan() {
			return core.UnknownVersion
		}
		line = sc.Text()
	}

	token, _, found := strings.Cut(strings.TrimRight(line, "\r"), " ")
	if !found || token == "" {
		return core.UnknownVersion
	}
	return token
}

// ModuleLocator returns the directory a loaded module was mapped from.
type ModuleLocator func(module string) (dir string, err error)

// GameVersion resolves the version of the running client. gameModule is the
// host's configured game module; anything other than the retail module
// (usually a private server bootloader) reports core.UnknownVersion.
func GameVersion(gameModule string, locate ModuleLocator) string {
	if gameModule == "" {
		gameModule = DefaultGameModule
	}
	if !strings.EqualFold(gameModule, DefaultGameModule) || locate == nil {
		return core.UnknownVersion
	}
	dir, err := locate(gameModule)
	if err != nil || dir == "" {
		return core.UnknownVersion
	}
	return PatchVersion(dir)
}

// ClientVersion returns the version source host adapters use in the live
// client: gameModule located through the process loader, resolved once.
func ClientVersion(gameModule string) *CachedVersion {
	return NewCachedVersion(func() string {
		return GameVersion(gameModule, guard.ModuleDir)
	})
}

// CachedVersion resolves a version once and serves it from memory.
type CachedVersion struct {
	once    sync.Once
	resolve func() string
	version string
}

// NewCachedVersion returns a VersionSource calling resolve on first use.
func NewCachedVersion(resolve func() string) *CachedVersion {
	return &CachedVersion{resolve: resolve}
}

// Version implements VersionSource.
func (c *CachedVersion) Version() string {
	c.once.Do(func() {
		if c.resolve != nil {
			c.version = c.resolve()
		}
		if c.version == "" {
			c.version = core.UnknownVersion
		}
	})
	return c.version
}
