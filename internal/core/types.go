// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"strings"
)

// UnknownVersion is reported when the client version cannot be determined.
const UnknownVersion = "Unknown"

// Direction is the travel direction of a game packet. The numeric values are
// part of the wire contract and must not change.
type Direction uint8

const (
	ServerToClient Direction = 0
	ClientToServer Direction = 1
)

func (d Direction) String() string {
	switch d {
	case ServerToClient:
		return "S2C"
	case ClientToServer:
		return "C2S"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the defined directions.
func (d Direction) Valid() bool {
	return d <= ClientToServer
}

// ParseDirection accepts "S2C"/"C2S" and the long forms, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "S2C", "SERVER_TO_CLIENT", "INCOMING":
		return ServerToClient, nil
	case "C2S", "CLIENT_TO_SERVER", "OUTGOING":
		return ClientToServer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Origin identifies the host integration that produced a record. The numeric
// values are frozen: new integrations append, existing ones never move.
type Origin uint8

const (
	AshitaV3   Origin = 0
	AshitaV4   Origin = 1
	WindowerV4 Origin = 2
	WindowerV5 Origin = 3
)

var originNames = [...]string{
	AshitaV3:   "ashita-v3",
	AshitaV4:   "ashita-v4",
	WindowerV4: "windower-v4",
	WindowerV5: "windower-v5",
}

func (o Origin) String() string {
	if o.Valid() {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", uint8(o))
}

// Valid reports whether o is one of the defined origins.
func (o Origin) Valid() bool {
	return int(o) < len(originNames)
}

// ParseOrigin parses names such as "ashita-v4" or "windower_v5".
func ParseOrigin(s string) (Origin, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, n := range originNames {
		if n == name {
			return Origin(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOrigin, s)
}

// SessionInfo is the out-of-band metadata a host shim reads alongside each
// packet.
type SessionInfo struct {
	Name    string `mapstructure:"name"`
	ZoneID  uint16 `mapstructure:"zone_id"`
	Version string `mapstructure:"version"`
}
