package keycard

import (
	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/globalplatform"
	"github.com/status-im/keycard-session/identifiers"
	"github.com/status-im/keycard-session/types"
)

// CashCommandSet is the client of the cash applet, which signs with a fixed key without PIN.
type CashCommandSet struct {
	c               types.Channel
	ApplicationInfo *types.CashApplicationInfo
}

func NewCashCommandSet(c types.Channel) *CashCommandSet {
	return &CashCommandSet{
		c: c,
	}
}

func (cs *CashCommandSet) Select() (*types.CashApplicationInfo, error) {
	cmd := globalplatform.NewCommandSelect(identifiers.CashInstanceAID)
	resp, err := cs.c.Send(cmd)
	if err = checkOK(resp, err); err != nil {
		return nil, err
	}

	info, err := types.ParseCashApplicationInfo(resp.Data)
	if err != nil {
		return nil, err
	}

	cs.ApplicationInfo = info

	return info, nil
}

func (cs *CashCommandSet) Sign(data []byte) (*types.Signature, error) {
	cmd, err := NewCommandCashSign(data)
	if err != nil {
		return nil, err
	}

	resp, err := cs.c.Send(cmd)
	if err = checkOK(resp, err); err != nil {
		return nil, err
	}

	return types.ParseSignature(data, resp.Data)
}

func checkOK(resp *apdu.Response, err error) error {
	if err != nil {
		return err
	}

	if !resp.IsOK() {
		return apdu.NewErrBadResponse(resp.Sw, "unexpected response")
	}

	return nil
}
