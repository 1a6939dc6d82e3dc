package globalplatform

// SCP02Keys is a pair of SCP02 encryption and MAC keys.
type SCP02Keys struct {
	enc []byte
	mac []byte
}

func NewSCP02Keys(enc, mac []byte) *SCP02Keys {
	return &SCP02Keys{
		enc: enc,
		mac: mac,
	}
}

func (k *SCP02Keys) Enc() []byte {
	return k.enc
}

func (k *SCP02Keys) Mac() []byte {
	return k.mac
}
