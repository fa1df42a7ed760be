package shim

import (
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/packeteater/internal/core"
)

// Windower adapts the Lua-facing submit(table, data, direction) call of the
// Windower addon.
type Windower struct {
	handler Handler
	origin  core.Origin
}

// NewWindower returns an adapter tagging records with origin, which must be
// core.WindowerV4 or core.WindowerV5.
func NewWindower(h Handler, origin core.Origin) (*Windower, error) {
	if origin != core.WindowerV4 && origin != core.WindowerV5 {
		return nil, fmt.Errorf("%w: %s is not a Windower origin", core.ErrInvalidOrigin, origin)
	}
	if h == nil {
		return nil, fmt.Errorf("windower adapter requires a handler")
	}
	return &Windower{handler: h, origin: origin}, nil
}

// Submit relays one packet. table carries name, zone_id and version as the
// Lua side sends them (numbers arrive as float64); data is the raw packet;
// "S2C" marks server to client, anything else client to server.
func (w *Windower) Submit(table map[string]any, data string, direction string) {
	info, err := DecodeSession(table)
	if err != nil {
		slog.Debug("dropping packet with unreadable session table", "error", err)
		return
	}

	dir := core.ClientToServer
	if direction == "S2C" {
		dir = core.ServerToClient
	}
	w.handler.HandlePacketData(info, []byte(data), dir, w.origin)
}

// DecodeSession converts a loosely typed session table into core.SessionInfo.
// A missing version becomes core.UnknownVersion.
func DecodeSession(table map[string]any) (core.SessionInfo, error) {
	var info core.SessionInfo
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &info,
	})
	if err != nil {
		return core.SessionInfo{}, err
	}
	if err := dec.Decode(table); err != nil {
		return core.SessionInfo{}, fmt.Errorf("decode session table: %w", err)
	}
	if info.Version == "" {
		info.Version = core.UnknownVersion
	}
	return info, nil
}
