package core

import "fmt"

// Header is the two-byte prefix carried by every game packet: the low 9 bits
// hold the packet id, the high 7 bits the size in 4-byte words.
type Header struct {
	ID   uint16
	Size int // bytes
}

// HeaderLen is the minimum number of bytes ParseHeader needs.
const HeaderLen = 2

// ParseHeader decodes the packet header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}
	return Header{
		ID:   uint16(data[0]) | uint16(data[1]&0x01)<<8,
		Size: int(data[1]>>1) * 4,
	}, nil
}

func (h Header) String() string {
	return fmt.Sprintf("0x%03X(%d bytes)", h.ID, h.Size)
}
