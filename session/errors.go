package session

import (
	"context"
	"errors"
	"fmt"

	keycard "github.com/status-im/keycard-session"
	"github.com/status-im/keycard-session/apdu"
)

var (
	// ErrChannelUnavailable means the card is gone: no channel, a disconnect mid-operation, a transport
	// failure or a timeout. Callers usually prompt for a reconnect.
	ErrChannelUnavailable = errors.New("card channel unavailable")
	// ErrExchangeFailed means the card answered but refused the command.
	ErrExchangeFailed         = errors.New("card exchange failed")
	ErrAuthenticityFailed     = errors.New("card authenticity verification failed")
	ErrPairingNotFound        = errors.New("pairing not found")
	ErrPairingFailed          = errors.New("pairing failed")
	ErrSecretGenerationFailed = errors.New("secret generation failed")
	ErrUnsupportedOnDevice    = errors.New("transport not supported on this device")
	ErrCardAlreadyInitialized = errors.New("card already initialized")
	ErrInvalidArgument        = errors.New("invalid argument")
)

var sentinels = []error{
	ErrChannelUnavailable,
	ErrExchangeFailed,
	ErrAuthenticityFailed,
	ErrPairingNotFound,
	ErrPairingFailed,
	ErrSecretGenerationFailed,
	ErrUnsupportedOnDevice,
	ErrCardAlreadyInitialized,
	ErrInvalidArgument,
	context.Canceled,
	context.DeadlineExceeded,
}

// classify maps errors of the lower layers to the session taxonomy. The original error stays reachable
// with errors.As.
func classify(err error) error {
	if err == nil {
		return nil
	}

	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}

	return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
}

func isChannelLoss(err error) bool {
	return errors.Is(err, ErrChannelUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func hasStatus(err error, sw uint16) bool {
	var bad *apdu.ErrBadResponse
	return errors.As(err, &bad) && bad.Sw() == sw
}

func isBadResponse(err error) bool {
	var bad *apdu.ErrBadResponse
	if errors.As(err, &bad) {
		return true
	}

	var wrongPIN *keycard.WrongPINError
	var wrongPUK *keycard.WrongPUKError

	return errors.As(err, &wrongPIN) || errors.As(err, &wrongPUK)
}

func wrap(kind error, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}
