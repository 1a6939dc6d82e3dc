package session

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// FactoryResetResult is the applet state observed after a factory reset.
type FactoryResetResult struct {
	Initialized bool
}

// FactoryReset resets the keycard applet. When the applet cannot be selected, lacks the capability or
// refuses the reset, the applet instance is deleted and reinstalled through the card manager instead.
// Both paths end by selecting the applet again.
func (s *Session) FactoryReset(ctx context.Context) (*FactoryResetResult, error) {
	var result *FactoryResetResult
	err := s.run(ctx, "factory_reset", func(op *operation) error {
		c, err := op.acquire()
		if err != nil {
			return err
		}

		applet := s.factory.Applet(c)
		reset, err := op.tryFactoryReset(applet)
		if err != nil {
			return err
		}

		if !reset {
			if err := op.reinstallApplet(s.factory.CardManager(c)); err != nil {
				return err
			}
		}

		info, err := s.factory.Applet(c).Select()
		if err != nil {
			return err
		}
		op.logger.Info("factory reset done", "initialized", info.Initialized, "fallback", !reset)

		result = &FactoryResetResult{Initialized: info.Initialized}

		return nil
	})

	return result, err
}

// tryFactoryReset returns false when the card manager fallback is needed.
func (op *operation) tryFactoryReset(applet Applet) (bool, error) {
	info, err := applet.Select()
	if err != nil {
		return false, fallbackOn(err, op.logger, "applet select failed")
	}

	if !info.HasFactoryResetCapability() {
		op.logger.Info("applet lacks factory reset capability", "version", info.VersionString())
		return false, nil
	}

	if err := applet.FactoryReset(); err != nil {
		return false, fallbackOn(err, op.logger, "factory reset refused")
	}

	return true, nil
}

// fallbackOn keeps err when it is not a card status error, which the fallback cannot recover from.
func fallbackOn(err error, logger log.Logger, msg string) error {
	if !isBadResponse(err) {
		return err
	}

	logger.Info(msg, "error", err)

	return nil
}

func (op *operation) reinstallApplet(cm CardManager) error {
	isd, err := cm.Select()
	if err != nil {
		return err
	}
	op.logger.Debug("issuer security domain selected", "aid", common.Bytes2Hex(isd))

	if err := cm.OpenSecureChannel(); err != nil {
		return err
	}

	if err := cm.DeleteKeycardInstance(); err != nil {
		return err
	}
	op.logger.Debug("keycard instance deleted")

	if err := cm.InstallKeycardApplet(); err != nil {
		return err
	}
	op.logger.Info("keycard applet reinstalled")

	return nil
}
