package globalplatform

import (
	"bytes"

	"github.com/status-im/keycard-session/apdu"
)

// SCP02Wrapper adds a chained C-MAC to each command.
type SCP02Wrapper struct {
	macKey []byte
	icv    []byte
}

func NewSCP02Wrapper(macKey []byte) *SCP02Wrapper {
	return &SCP02Wrapper{
		macKey: macKey,
	}
}

func (w *SCP02Wrapper) Wrap(cmd *apdu.Command) (*apdu.Command, error) {
	cla := cmd.Cla() | 0x04

	macData := new(bytes.Buffer)
	macData.Write([]byte{cla, cmd.Ins(), cmd.P1(), cmd.P2(), byte(len(cmd.Data()) + 8)})
	macData.Write(cmd.Data())

	icv := NullBytes8
	if len(w.icv) > 0 {
		var err error
		icv, err = EncryptICV(w.macKey, w.icv)
		if err != nil {
			return nil, err
		}
	}

	mac, err := MacFull3DES(w.macKey, AppendDESPadding(macData.Bytes()), icv)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(cmd.Data())+len(mac))
	data = append(data, cmd.Data()...)
	data = append(data, mac...)

	wrapped := apdu.NewCommand(cla, cmd.Ins(), cmd.P1(), cmd.P2(), data)
	if ok, le := cmd.Le(); ok {
		wrapped.SetLe(le)
	}

	w.icv = mac

	return wrapped, nil
}

// SecureChannel is a Channel wrapping every command with the SCP02 C-MAC.
type SecureChannel struct {
	c       Channel
	wrapper *SCP02Wrapper
}

func NewSecureChannel(session *Session, c Channel) *SecureChannel {
	return &SecureChannel{
		c:       c,
		wrapper: NewSCP02Wrapper(session.Keys().Mac()),
	}
}

func (sc *SecureChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	wrapped, err := sc.wrapper.Wrap(cmd)
	if err != nil {
		return nil, err
	}

	return sc.c.Send(wrapped)
}
