package identifiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeycardInstanceAID(t *testing.T) {
	aid, err := KeycardInstanceAID(KeycardDefaultInstanceIndex)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xA0, 0x00, 0x00, 0x08, 0x04, 0x00, 0x01, 0x01, 0x01}, aid)
	assert.Len(t, KeycardAID, 8)

	_, err = KeycardInstanceAID(0)
	assert.Equal(t, ErrInvalidInstanceIndex, err)

	_, err = KeycardInstanceAID(256)
	assert.Equal(t, ErrInvalidInstanceIndex, err)
}
