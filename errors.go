// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"errors"
	"fmt"
)

// Sentinel errors.  Typed errors produced by the engines unwrap to one
// of these so callers can branch with errors.Is.

// ErrProviderUnavailable is returned when the named security package
// cannot be resolved to a registered provider.
var ErrProviderUnavailable = errors.New("secneg: security package not available")

// ErrNotAuthenticated is returned by the per-message operations when
// the handshake has not completed.  It indicates a caller bug; the
// operations fail fast and do not touch the provider.
var ErrNotAuthenticated = errors.New("secneg: context not authenticated")

// ErrIntegrity is returned by Decrypt when the provider reports that a
// protected message was tampered with or fell outside the replay
// window.  It is security relevant and must never be retried blindly.
var ErrIntegrity = errors.New("secneg: message integrity check failed")

// ErrSignatureInvalid is returned by VerifySignature when the detached
// signature does not verify.  It is distinct from ErrIntegrity and from
// generic provider failures so callers can branch on it specifically.
var ErrSignatureInvalid = errors.New("secneg: signature verification failed")

// ErrHandshakeFailed is returned by Authorize once the engine has
// entered the Failed state.  The state is sticky; Reset is required
// before the engine can be reused.
var ErrHandshakeFailed = errors.New("secneg: handshake failed, Reset required")

// ErrEstablished is returned by Authorize after the context has been
// fully established.  Reset is required to run a new handshake on the
// same engine.
var ErrEstablished = errors.New("secneg: context already established")

// ProviderError reports a provider failure together with the status
// code the provider returned, so callers can decide between retry and
// abort.  It unwraps to ErrIntegrity or ErrSignatureInvalid for the
// security-relevant statuses.
type ProviderError struct {
	Op     string
	Status Status
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("secneg: %s: %s", e.Op, e.Status)
}

func (e *ProviderError) Unwrap() error {
	switch e.Status {
	case StatusMessageAltered, StatusOutOfSequence:
		return ErrIntegrity
	case StatusSignatureInvalid:
		return ErrSignatureInvalid
	case StatusPackageUnknown:
		return ErrProviderUnavailable
	}

	return nil
}

// CredentialError reports a rejected credential acquisition.  It is
// fatal for the credential; the caller may retry with a different
// identity.
type CredentialError struct {
	Package string
	Status  Status
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("secneg: acquiring %s credentials: %s", e.Package, e.Status)
}
