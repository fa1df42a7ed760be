// Package shim adapts host plugin callbacks (Ashita, Windower) to the
// packet relay.
package shim

import (
	"firestige.xyz/packeteater/internal/core"
)

// Handler receives every packet a host adapter intercepts. *eater.Core
// implements it.
type Handler interface {
	HandlePacketData(info core.SessionInfo, data []byte, dir core.Direction, origin core.Origin)
}

// VersionSource reports the game client version.
type VersionSource interface {
	Version() string
}

// StaticVersion is a VersionSource with a fixed value.
type StaticVersion string

// Version returns v, or core.UnknownVersion when empty.
func (v StaticVersion) Version() string {
	if v == "" {
		return core.UnknownVersion
	}
	return string(v)
}
