package io

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-session/apdu"
)

const insGetResponse = 0xC0

var logger = log.New("package", "keycard-session/io")

// Transmitter is the raw connection to a card, as provided by a PC/SC card handle.
type Transmitter interface {
	Transmit([]byte) ([]byte, error)
}

// NormalChannel sends plain APDUs through a Transmitter.
type NormalChannel struct {
	t Transmitter
}

func NewNormalChannel(t Transmitter) *NormalChannel {
	return &NormalChannel{t}
}

// Send serializes cmd, transmits it and parses the response. A 61XX status is followed by GET RESPONSE.
func (c *NormalChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	rawCmd, err := cmd.Serialize()
	if err != nil {
		return nil, err
	}

	resp, err := c.transmit(rawCmd)
	if err != nil {
		return nil, err
	}

	data := append([]byte{}, resp.Data...)
	for resp.Sw1 == 0x61 {
		getResponse := apdu.NewCommand(cmd.Cla(), insGetResponse, 0, 0, nil)
		getResponse.SetLe(resp.Sw2)

		rawCmd, err = getResponse.Serialize()
		if err != nil {
			return nil, err
		}

		resp, err = c.transmit(rawCmd)
		if err != nil {
			return nil, err
		}

		data = append(data, resp.Data...)
	}

	resp.Data = data

	return resp, nil
}

func (c *NormalChannel) transmit(rawCmd []byte) (*apdu.Response, error) {
	logger.Debug("apdu command", "hex", fmt.Sprintf("%x", rawCmd))
	rawResp, err := c.t.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}
	logger.Debug("apdu response", "hex", fmt.Sprintf("%x", rawResp))

	return apdu.ParseResponse(rawResp)
}
