package types

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/status-im/keycard-session/apdu"
)

const (
	metadataVersion = 1
	MaxCardNameLen  = 20
)

var (
	ErrInvalidMetadataVersion = errors.New("invalid version")
	ErrCardNameTooLong        = errors.New("name longer than 20 chars")
)

// Metadata is the public data record stored on the card: a card name and the wallet paths in use.
type Metadata struct {
	name  string
	paths []uint32
}

func EmptyMetadata() *Metadata {
	return &Metadata{}
}

func NewMetadata(name string, paths []uint32) (*Metadata, error) {
	m := EmptyMetadata()

	if err := m.SetName(name); err != nil {
		return nil, err
	}

	for _, p := range paths {
		m.AddPath(p)
	}

	return m, nil
}

func ParseMetadata(data []byte) (*Metadata, error) {
	buf := bytes.NewBuffer(data)
	header, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}

	if header>>5 != metadataVersion {
		return nil, ErrInvalidMetadataVersion
	}

	namelen := int(header & 0x1f)
	if namelen > buf.Len() {
		return nil, io.ErrUnexpectedEOF
	}

	m := &Metadata{
		name: string(buf.Next(namelen)),
	}

	for {
		start, err := apdu.ParseLength(buf)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		count, err := apdu.ParseLength(buf)
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		} else if err != nil {
			return nil, err
		}

		for i := start; i <= start+count; i++ {
			m.AddPath(i)
		}
	}

	return m, nil
}

// ParseCardName returns the name stored in data, or an empty string when data is absent or corrupt.
func ParseCardName(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	m, err := ParseMetadata(data)
	if err != nil {
		return ""
	}

	return m.Name()
}

func (m *Metadata) Name() string {
	return m.name
}

func (m *Metadata) SetName(name string) error {
	if len(name) > MaxCardNameLen {
		return ErrCardNameTooLong
	}

	m.name = name
	return nil
}

func (m *Metadata) Paths() []uint32 {
	return append([]uint32{}, m.paths...)
}

func (m *Metadata) AddPath(path uint32) {
	i := sort.Search(len(m.paths), func(i int) bool { return m.paths[i] >= path })
	if i < len(m.paths) && m.paths[i] == path {
		return
	}

	m.paths = append(m.paths, 0)
	copy(m.paths[i+1:], m.paths[i:])
	m.paths[i] = path
}

func (m *Metadata) RemovePath(path uint32) {
	i := sort.Search(len(m.paths), func(i int) bool { return m.paths[i] >= path })
	if i < len(m.paths) && m.paths[i] == path {
		m.paths = append(m.paths[:i], m.paths[i+1:]...)
	}
}

// Serialize encodes the name header followed by (start, count) ranges of consecutive paths.
func (m *Metadata) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(metadataVersion<<5 | byte(len(m.name)))
	buf.WriteString(m.name)

	if len(m.paths) == 0 {
		return buf.Bytes()
	}

	start := m.paths[0]
	count := uint32(0)

	for _, p := range m.paths[1:] {
		if p == start+count+1 {
			count++
			continue
		}

		apdu.WriteLength(buf, start)
		apdu.WriteLength(buf, count)
		start = p
		count = 0
	}

	apdu.WriteLength(buf, start)
	apdu.WriteLength(buf, count)

	return buf.Bytes()
}
