// Package record builds the JSON submission records sent to the collector.
//
// The JSON keys are a fixed contract with the collection endpoint; renaming
// any of them breaks every deployed collector.
package record

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"firestige.xyz/packeteater/internal/core"
)

// Record is one captured packet plus the session metadata read next to it.
type Record struct {
	Name      string         `json:"name"`
	ZoneID    uint16         `json:"zone_id"`
	Version   string         `json:"version"`
	Timestamp int64          `json:"timestamp"` // ms since epoch, at capture
	Payload   string         `json:"payload"`   // base64 of the raw packet
	Direction core.Direction `json:"direction"`
	Origin    core.Origin    `json:"origin"`
}

// New builds a record captured at now. data is copied into the base64
// payload, so the caller may reuse its buffer as soon as New returns.
func New(info core.SessionInfo, data []byte, direction core.Direction, origin core.Origin, now time.Time) Record {
	// TODO: strip character names from 0x00D payloads before encoding.
	return Record{
		Name:      info.Name,
		ZoneID:    info.ZoneID,
		Version:   info.Version,
		Timestamp: now.UnixMilli(),
		Payload:   base64.StdEncoding.EncodeToString(data),
		Direction: direction,
		Origin:    origin,
	}
}

// Marshal serializes r. Every field is a string or an integer, so encoding
// cannot fail.
func (r Record) Marshal() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic("record: cannot marshal: " + err.Error())
	}
	return b
}

// Data decodes the base64 payload back into the raw packet bytes.
func (r Record) Data() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", core.ErrInvalidRecord, err)
	}
	return b, nil
}

// Validate checks the enum fields against the frozen wire mapping.
func (r Record) Validate() error {
	if !r.Direction.Valid() {
		return fmt.Errorf("%w: direction %d", core.ErrInvalidRecord, r.Direction)
	}
	if !r.Origin.Valid() {
		return fmt.Errorf("%w: origin %d", core.ErrInvalidRecord, r.Origin)
	}
	return nil
}

// Decode parses a serialized record. Unknown keys are ignored so older
// collectors keep accepting newer clients.
func Decode(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", core.ErrInvalidRecord, err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Encoder turns packets into serialized records. The zero value uses the
// wall clock.
type Encoder struct {
	Now func() time.Time
}

// Encode builds and serializes a record, stamping it with the encoder's clock
// at call time.
func (e *Encoder) Encode(info core.SessionInfo, data []byte, direction core.Direction, origin core.Origin) []byte {
	now := time.Now
	if e != nil && e.Now != nil {
		now = e.Now
	}
	return New(info, data, direction, origin, now()).Marshal()
}
