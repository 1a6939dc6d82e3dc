package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/status-im/keycard-session/apdu"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	wrapped := fmt.Errorf("select: %w", ErrChannelUnavailable)
	assert.Equal(t, wrapped, classify(wrapped))
	assert.Equal(t, context.Canceled, classify(context.Canceled))

	cardErr := apdu.NewErrBadResponse(0x6985, "conditions not satisfied")
	err := classify(cardErr)
	assert.ErrorIs(t, err, ErrExchangeFailed)

	var bad *apdu.ErrBadResponse
	assert.True(t, errors.As(err, &bad))
	assert.Equal(t, uint16(0x6985), bad.Sw())
	assert.True(t, hasStatus(err, apdu.SwConditionsNotSatisfied))
	assert.False(t, hasStatus(err, apdu.SwInsNotSupported))
}

func TestChannelLoss(t *testing.T) {
	assert.True(t, isChannelLoss(fmt.Errorf("%w: timeout", ErrChannelUnavailable)))
	assert.True(t, isChannelLoss(context.DeadlineExceeded))
	assert.False(t, isChannelLoss(apdu.NewErrBadResponse(0x6982, "")))
	assert.False(t, isBadResponse(ErrChannelUnavailable))
}
