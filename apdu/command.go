package apdu

import (
	"bytes"
	"encoding/binary"
)

// Command struct represent the data sent as an APDU command with CLA, Ins, P1, P2, Lc, Data, and Le.
type Command struct {
	cla  uint8
	ins  uint8
	p1   uint8
	p2   uint8
	data []byte
	le   struct {
		value uint8
		set   bool
	}
}

// NewCommand returns a new apdu Command.
func NewCommand(cla, ins, p1, p2 uint8, data []byte) *Command {
	return &Command{
		cla:  cla,
		ins:  ins,
		p1:   p1,
		p2:   p2,
		data: data,
	}
}

// SetLe sets the expected response length.
func (c *Command) SetLe(le uint8) {
	c.le.value = le
	c.le.set = true
}

// Le returns if Le is set and its value.
func (c *Command) Le() (bool, uint8) {
	return c.le.set, c.le.value
}

// Cla returns the CLA byte.
func (c *Command) Cla() uint8 {
	return c.cla
}

// Ins returns the INS byte.
func (c *Command) Ins() uint8 {
	return c.ins
}

// P1 returns the P1 byte.
func (c *Command) P1() uint8 {
	return c.p1
}

// P2 returns the P2 byte.
func (c *Command) P2() uint8 {
	return c.p2
}

// Data returns the command data.
func (c *Command) Data() []byte {
	return c.data
}

// Serialize serializes the command into a raw payload.
func (c *Command) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, []uint8{c.cla, c.ins, c.p1, c.p2}); err != nil {
		return nil, err
	}

	if len(c.data) > 0 {
		if err := buf.WriteByte(uint8(len(c.data))); err != nil {
			return nil, err
		}

		if _, err := buf.Write(c.data); err != nil {
			return nil, err
		}
	}

	if c.le.set {
		if err := buf.WriteByte(c.le.value); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
