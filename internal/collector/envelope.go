package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/record"
)

// Envelope is what the collector publishes for every accepted record.
type Envelope struct {
	RequestID  string         `msgpack:"request_id"`
	Submitter  string         `msgpack:"submitter"`
	ReceivedAt int64          `msgpack:"received_at"` // ms since epoch
	Name       string         `msgpack:"name"`
	ZoneID     uint16         `msgpack:"zone_id"`
	Version    string         `msgpack:"version"`
	Timestamp  int64          `msgpack:"timestamp"`
	Direction  core.Direction `msgpack:"direction"`
	Origin     core.Origin    `msgpack:"origin"`
	Data       []byte         `msgpack:"data"`
	PacketID   uint16         `msgpack:"packet_id"`
	PacketSize int            `msgpack:"packet_size"`
}

func newEnvelope(requestID, submitter string, receivedAt int64, rec record.Record, data []byte, h core.Header) *Envelope {
	return &Envelope{
		RequestID:  requestID,
		Submitter:  submitter,
		ReceivedAt: receivedAt,
		Name:       rec.Name,
		ZoneID:     rec.ZoneID,
		Version:    rec.Version,
		Timestamp:  rec.Timestamp,
		Direction:  rec.Direction,
		Origin:     rec.Origin,
		Data:       data,
		PacketID:   h.ID,
		PacketSize: h.Size,
	}
}

// Marshal encodes e with msgpack.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// UnmarshalEnvelope decodes a msgpack envelope.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &e, nil
}

// SubmitterID is the stable pseudonymous identity of a client address: the
// hex sha256 of its textual IP.
func SubmitterID(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}
