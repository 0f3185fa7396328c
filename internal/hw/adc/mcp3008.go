package adc

import (
	"fmt"

	"github.com/cjeanneret/ArmGo/internal/debug"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MCP3008 is an 8-channel 10-bit SPI converter. The magnetic encoders and
// the pendant potentiometers sit on its single-ended inputs.
type MCP3008 struct {
	c spi.Conn
}

// Channels is the number of single-ended inputs.
const Channels = 8

// NewMCP3008 connects to the converter on p. The chip is rated to 3.6MHz at
// 5V and 1.35MHz at 2.7V; 1MHz is safe for both.
func NewMCP3008(p spi.Port) (*MCP3008, error) {
	c, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("mcp3008: connect: %w", err)
	}
	return &MCP3008{c: c}, nil
}

// ReadRaw performs a single-ended conversion on channel 0..7.
//
// Transfer: start bit, then SGL=1 and the channel in the high nibble of the
// second byte. The result is the last 10 bits of the reply.
func (d *MCP3008) ReadRaw(channel int) (uint16, error) {
	if channel < 0 || channel >= Channels {
		return 0, fmt.Errorf("%w: %d", ErrChannel, channel)
	}
	w := []byte{0x01, byte(0x08|channel) << 4, 0x00}
	r := make([]byte, len(w))
	if err := d.c.Tx(w, r); err != nil {
		return 0, fmt.Errorf("mcp3008: read ch%d: %w", channel, err)
	}
	v := uint16(r[1]&0x03)<<8 | uint16(r[2])
	debug.Trace("MCP3008: ch%d -> %d", channel, v)
	return v, nil
}

// String implements conn.Resource.
func (d *MCP3008) String() string {
	return "MCP3008"
}
