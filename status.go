// SPDX-License-Identifier: Apache-2.0

package secneg

// Status is the numeric status space reported by security providers.
// Values below statusErrBase are success or continuation codes; values
// at or above it are errors.  The mapping of a Status to a handshake
// outcome is centralized in [Status.Classify] so the continue/complete/
// error decision is made in exactly one place.
type Status uint32

// Success and continuation codes.
const (
	// StatusOK indicates the operation succeeded; for a negotiation step
	// the context is fully established.
	StatusOK Status = iota

	// StatusContinueNeeded indicates the returned token must be sent to
	// the peer and the peer's reply fed to the next Authorize call.
	StatusContinueNeeded

	// StatusCompleteNeeded indicates the handshake is finished once the
	// output token has been passed through FinalizeToken.
	StatusCompleteNeeded

	// StatusCompleteAndContinue indicates the output token must be
	// finalized and the exchange then continues as for StatusContinueNeeded.
	StatusCompleteAndContinue
)

const statusErrBase Status = 0x100

// Error codes.
const (
	// StatusInternalError reports a fault inside the provider
	StatusInternalError Status = statusErrBase + iota
	// StatusPackageUnknown reports that the named package could not be resolved
	StatusPackageUnknown
	// StatusNoCredentials reports that no usable credentials were supplied or acquired
	StatusNoCredentials
	// StatusLogonDenied reports that the peer failed to authenticate
	StatusLogonDenied
	// StatusInvalidToken reports a malformed or oversized token
	StatusInvalidToken
	// StatusInvalidHandle reports an absent or foreign context handle
	StatusInvalidHandle
	// StatusInvalidBuffer reports a descriptor with wrong buffer order or tags
	StatusInvalidBuffer
	// StatusMessageAltered reports that a protected message failed its integrity check
	StatusMessageAltered
	// StatusOutOfSequence reports a sequence number outside the expected window
	StatusOutOfSequence
	// StatusSignatureInvalid reports a detached signature that did not verify
	StatusSignatureInvalid
	// StatusQopUnsupported reports that the requested protection level is unavailable
	StatusQopUnsupported
	// StatusContextExpired reports an expired security context
	StatusContextExpired
	// StatusCredentialsExpired reports expired credentials
	StatusCredentialsExpired
	// StatusUnsupported reports an operation the provider does not implement
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "The operation completed successfully"
	case StatusContinueNeeded:
		return "The routine must be called again to complete its function"
	case StatusCompleteNeeded:
		return "The output token must be finalized before use"
	case StatusCompleteAndContinue:
		return "The output token must be finalized and the exchange continued"
	case StatusInternalError:
		return "The provider reported an internal fault"
	case StatusPackageUnknown:
		return "The requested security package is not available"
	case StatusNoCredentials:
		return "No credentials were supplied, or the credentials were unavailable or inaccessible"
	case StatusLogonDenied:
		return "The peer could not be authenticated"
	case StatusInvalidToken:
		return "A token was malformed or exceeded the package token size"
	case StatusInvalidHandle:
		return "No valid context handle was supplied"
	case StatusInvalidBuffer:
		return "A buffer descriptor had the wrong order or tags"
	case StatusMessageAltered:
		return "A protected message has been tampered with or was out of the replay window"
	case StatusOutOfSequence:
		return "A message sequence number was outside the expected window"
	case StatusSignatureInvalid:
		return "A message signature did not verify"
	case StatusQopUnsupported:
		return "The quality of protection requested could not be provided"
	case StatusContextExpired:
		return "The security context has expired"
	case StatusCredentialsExpired:
		return "The referenced credentials have expired"
	case StatusUnsupported:
		return "The operation is not supported by the provider"
	}

	return "Unknown status"
}

// IsError reports whether s is an error status.
func (s Status) IsError() bool {
	return s >= statusErrBase
}

// Outcome is the classified result of one handshake round.
type Outcome int

const (
	// OutcomeContinue: transmit the output token and feed the peer's reply
	// to the next Authorize call.
	OutcomeContinue Outcome = iota

	// OutcomeComplete: the context is established; the output token, if
	// non-empty, is the final token for the peer.
	OutcomeComplete

	// OutcomeCompleteNeedsFinalToken: established after the engine's
	// internal finalization of the output token.  Callers observe this
	// with the finalization already performed.
	OutcomeCompleteNeedsFinalToken

	// OutcomeCompleteAndContinue: the output token has been finalized by
	// the engine and must be transmitted; further rounds follow.
	OutcomeCompleteAndContinue

	// OutcomeError: the handshake failed; the engine state is Failed until
	// Reset is called.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeComplete:
		return "complete"
	case OutcomeCompleteNeedsFinalToken:
		return "complete-needs-final-token"
	case OutcomeCompleteAndContinue:
		return "complete-and-continue"
	case OutcomeError:
		return "error"
	}

	return "unknown"
}

// ContinueNeeded reports whether the caller must transmit the output
// token and await a peer response before the context can be used.
func (o Outcome) ContinueNeeded() bool {
	return o == OutcomeContinue || o == OutcomeCompleteAndContinue
}

// Established reports whether the outcome leaves the context
// authenticated.
func (o Outcome) Established() bool {
	return o == OutcomeComplete || o == OutcomeCompleteNeedsFinalToken
}

// Classify maps a provider status to its handshake outcome.
func (s Status) Classify() Outcome {
	switch s {
	case StatusOK:
		return OutcomeComplete
	case StatusContinueNeeded:
		return OutcomeContinue
	case StatusCompleteNeeded:
		return OutcomeCompleteNeedsFinalToken
	case StatusCompleteAndContinue:
		return OutcomeCompleteAndContinue
	}

	return OutcomeError
}
