package chains

import (
	"errors"
	"fmt"
)

// ConnectionError is returned when a wallet is unreachable or refused the
// connection handshake
type ConnectionError struct {
	Connector string
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Connector == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection failed via %s: %v", e.Connector, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnsupportedChainError is returned when a chain id is not served by the
// active adapter
type UnsupportedChainError struct {
	ChainID string
	Family  Family
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("chain %s not supported by %s adapter", e.ChainID, e.Family)
}

// UserRejectedError reports an explicit user cancellation. It is a normal
// outcome, never retried.
type UserRejectedError struct {
	Op string
}

func (e *UserRejectedError) Error() string {
	return fmt.Sprintf("user rejected %s", e.Op)
}

// SigningRejectedError is returned when the signer refuses a message
type SigningRejectedError struct {
	Err error
}

func (e *SigningRejectedError) Error() string {
	return fmt.Sprintf("signing rejected: %v", e.Err)
}

func (e *SigningRejectedError) Unwrap() error {
	return e.Err
}

// SubmissionError is returned when a transaction is refused at submission
// time
type SubmissionError struct {
	TxID string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transaction submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// StaleTokenError reports misuse: a submission or resubmission attempted
// with a token past the acceptance boundary. Expired tokens must never be
// reused.
type StaleTokenError struct {
	Token           string
	LastValidHeight uint64
	CurrentHeight   uint64
}

func (e *StaleTokenError) Error() string {
	return fmt.Sprintf("validity token %s expired at height %d (current %d)",
		e.Token, e.LastValidHeight, e.CurrentHeight)
}

// ConcurrentOperationError reports a violation of the one-in-flight rule:
// a second connect or switch started while another was in progress
type ConcurrentOperationError struct {
	Op       string
	InFlight string
}

func (e *ConcurrentOperationError) Error() string {
	return fmt.Sprintf("%s rejected: %s already in progress", e.Op, e.InFlight)
}

// NetworkError is a transient transport failure, retried with backoff up to
// a bounded attempt count before surfacing
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when an adapter call exceeds its deadline; the
// caller-visible state is rolled back to the pre-call state
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient kind that polling may
// retry internally. All other kinds surface immediately.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}
