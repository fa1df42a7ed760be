package shim

import (
	"fmt"

	"firestige.xyz/packeteater/internal/core"
)

// Party exposes the party members known to the Ashita memory manager.
// Index 0 is the local player.
type Party interface {
	MemberName(index int) string
	MemberZone(index int) uint16
}

// Ashita adapts Ashita plugin packet callbacks.
type Ashita struct {
	handler Handler
	party   Party
	version VersionSource
	origin  core.Origin
}

// NewAshita returns an adapter tagging records with origin, which must be
// core.AshitaV3 or core.AshitaV4.
func NewAshita(h Handler, party Party, version VersionSource, origin core.Origin) (*Ashita, error) {
	if origin != core.AshitaV3 && origin != core.AshitaV4 {
		return nil, fmt.Errorf("%w: %s is not an Ashita origin", core.ErrInvalidOrigin, origin)
	}
	if h == nil || party == nil {
		return nil, fmt.Errorf("ashita adapter requires a handler and a party")
	}
	if version == nil {
		version = StaticVersion(core.UnknownVersion)
	}
	return &Ashita{handler: h, party: party, version: version, origin: origin}, nil
}

// HandleIncomingPacket relays a server to client packet. It always returns
// false so the packet is never blocked.
func (a *Ashita) HandleIncomingPacket(_ uint16, data []byte) bool {
	a.handler.HandlePacketData(a.session(), data, core.ServerToClient, a.origin)
	return false
}

// HandleOutgoingPacket relays a client to server packet. It always returns
// false so the packet is never blocked.
func (a *Ashita) HandleOutgoingPacket(_ uint16, data []byte) bool {
	a.handler.HandlePacketData(a.session(), data, core.ClientToServer, a.origin)
	return false
}

func (a *Ashita) session() core.SessionInfo {
	return core.SessionInfo{
		Name:    a.party.MemberName(0),
		ZoneID:  a.party.MemberZone(0),
		Version: a.version.Version(),
	}
}
