package chains

import (
	"time"

	"github.com/walletmesh/walletmesh/pkg/constants"
)

// Commitment is the finality certainty requested when reading chain state.
// The choice trades recency for certainty and changes the usable expiration
// budget of a fetched token, so it is always an explicit option.
type Commitment string

const (
	// CommitmentProcessed uses the most recent token: longest usable window,
	// small risk the token belongs to an abandoned fork
	CommitmentProcessed Commitment = "processed"

	// CommitmentConfirmed is the recommended default: negligible abandonment
	// risk, slightly shorter effective window
	CommitmentConfirmed Commitment = "confirmed"

	// CommitmentFinalized has zero abandonment risk and the shortest
	// effective window
	CommitmentFinalized Commitment = "finalized"
)

// ValidityToken is the recent-validity reference a transaction is built
// against. For EVM it is empty and never expires; for SVM it is a recent
// blockhash with a network-reported last valid block height.
type ValidityToken struct {
	Value           string
	FetchedAtHeight uint64
	LastValidHeight uint64 // 0 means the token never expires
	Commitment      Commitment

	// Durable marks a token stored in an on-chain nonce account; durable
	// tokens are exempt from the queue-expiration rule
	Durable bool
}

// Expires reports whether the token is subject to queue expiration
func (t ValidityToken) Expires() bool {
	return t.LastValidHeight > 0 && !t.Durable
}

// ExpiredAt reports whether the token has passed its validity bound at the
// observed height. Every such judgment is eventually consistent: the queue
// may advance between the observation and its use.
func (t ValidityToken) ExpiredAt(height uint64) bool {
	return t.Expires() && height > t.LastValidHeight
}

// RemainingAdvances returns how many further queue advances the token stays
// usable for, at the observed height
func (t ValidityToken) RemainingAdvances(height uint64) uint64 {
	if !t.Expires() || height > t.LastValidHeight {
		return 0
	}
	return t.LastValidHeight - height
}

// ExpiresIn estimates the remaining wall-clock validity at the observed
// height. The queue cadence varies, so this is an estimate bound, not an
// exact deadline.
func (t ValidityToken) ExpiresIn(height uint64) time.Duration {
	return time.Duration(t.RemainingAdvances(height)) * constants.SlotCadence
}

// FresherThan reports whether the token is strictly fresher than other.
// Resubmission after expiry requires a strictly fresher token.
func (t ValidityToken) FresherThan(other ValidityToken) bool {
	return t.LastValidHeight > other.LastValidHeight
}

// TxStatus is a pending transaction's confirmation status. Transitions are
// monotonic: Submitted may move to exactly one terminal state and never
// back.
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxExpired   TxStatus = "expired"
)

// Terminal reports whether no further transitions are possible
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxFailed || s == TxExpired
}
