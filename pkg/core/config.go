package core

// AvoiderConfig contains configuration for the retransmission avoider.
type AvoiderConfig struct {
	// MaxSackBlocks caps the number of SACK blocks injected into one ACK.
	// The remaining TCP option space may allow fewer.
	MaxSackBlocks int `json:"maxSackBlocks" yaml:"maxSackBlocks"`

	// SkipIncompleteSegments ignores TCP segments whose IPv4 packet does not
	// fit in the PDU that carries its start.
	SkipIncompleteSegments bool `json:"skipIncompleteSegments" yaml:"skipIncompleteSegments"`

	// MatchLocalAddress drops notifications whose local address does not
	// match the destination recovered from the packet. Notifications that
	// carry no local address are never dropped.
	MatchLocalAddress bool `json:"matchLocalAddress" yaml:"matchLocalAddress"`

	// CopyPackets copies notification bytes before inspection.
	CopyPackets bool `json:"copyPackets" yaml:"copyPackets"`

	// Debug enables debug logging.
	Debug bool `json:"debug" yaml:"debug"`
}

// DefaultAvoiderConfig returns the configuration used when nothing is set.
func DefaultAvoiderConfig() AvoiderConfig {
	return AvoiderConfig{
		MaxSackBlocks:          4,
		SkipIncompleteSegments: true,
		MatchLocalAddress:      true,
	}
}
