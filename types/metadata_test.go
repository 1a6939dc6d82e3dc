package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataSerialize(t *testing.T) {
	m, err := NewMetadata("test card", []uint32{3, 1, 2, 10, 2, 0x80})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 10, 0x80}, m.Paths())

	data := m.Serialize()
	assert.Equal(t, byte(0x20|9), data[0])
	assert.Equal(t, "test card", string(data[1:10]))
	assert.Equal(t, []byte{0x01, 0x02, 0x0A, 0x00, 0x81, 0x80, 0x00}, data[10:])

	parsed, err := ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "test card", parsed.Name())
	assert.Equal(t, m.Paths(), parsed.Paths())
}

func TestMetadataPaths(t *testing.T) {
	m := EmptyMetadata()
	m.AddPath(5)
	m.AddPath(1)
	m.RemovePath(5)
	m.RemovePath(7)
	assert.Equal(t, []uint32{1}, m.Paths())
}

func TestMetadataNameTooLong(t *testing.T) {
	_, err := NewMetadata("a name that is way too long", nil)
	assert.Equal(t, ErrCardNameTooLong, err)
}

func TestParseCardName(t *testing.T) {
	assert.Equal(t, "", ParseCardName(nil))
	assert.Equal(t, "", ParseCardName([]byte{0x00}))
	assert.Equal(t, "", ParseCardName([]byte{0x25, 'a'}))
	assert.Equal(t, "abc", ParseCardName([]byte{0x23, 'a', 'b', 'c'}))
}
