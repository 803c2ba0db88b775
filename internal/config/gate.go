package config

import "golang.org/x/crypto/bcrypt"

// LiveGate guards arming live trading behind an operator passphrase,
// hashed with bcrypt so the plaintext is never held longer than needed
// to check it.
type LiveGate struct {
	hash []byte
}

// NewLiveGate hashes the operator-chosen passphrase for later checks.
func NewLiveGate(passphrase string) (*LiveGate, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &LiveGate{hash: hash}, nil
}

// NewLiveGateFromHash builds a gate from an already-hashed passphrase,
// e.g. one loaded from configuration rather than entered interactively.
func NewLiveGateFromHash(hash []byte) *LiveGate {
	return &LiveGate{hash: hash}
}

// Allow reports whether attempt unlocks live trading.
func (g *LiveGate) Allow(attempt string) bool {
	return bcrypt.CompareHashAndPassword(g.hash, []byte(attempt)) == nil
}
