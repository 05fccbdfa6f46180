// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"sync"
	"time"
)

// CredUsage selects the role a credential is acquired for.
type CredUsage int

const (
	// CredUsageOutbound credentials initiate contexts (client role)
	CredUsageOutbound CredUsage = iota
	// CredUsageInbound credentials accept contexts (server role)
	CredUsageInbound
)

func (u CredUsage) String() string {
	if u == CredUsageInbound {
		return "inbound"
	}

	return "outbound"
}

// DataRep selects the data representation the provider should assume
// for protected messages.
type DataRep int

const (
	DataRepNetwork DataRep = iota
	DataRepNative
)

// PackageInfo is the immutable capability descriptor of a security
// package.  The engines size token and trailer buffers strictly from
// these maximums.
type PackageInfo struct {
	Name             string // unique package name
	MaxTokenSize     int    // largest handshake token the package produces or accepts
	MaxMessageSize   int    // largest message that may be protected in one call
	MaxSignatureSize int    // largest trailer or detached signature
}

// AuthIdentity carries optional pre-supplied authentication material
// for credential acquisition.  Its interpretation is package specific.
type AuthIdentity struct {
	Principal string
	Secret    []byte
}

// Credential is an opaque provider-owned credential handle.  It is
// owned by the engine that acquired it and released on teardown; it may
// be shared read-only across independently sequenced contexts.
type Credential interface {
	// Usage reports the role the credential was acquired for.
	Usage() CredUsage

	// Expiry reports when the credential stops being usable.
	Expiry() time.Time

	// Release frees the provider-side state.  The credential must not be
	// used afterwards.
	Release() error
}

// ContextHandle is an opaque provider-owned security context handle.
// It is exclusively owned by one engine and never shared or copied;
// ownership only moves, e.g. on re-negotiation.
type ContextHandle interface {
	// Release frees the provider-side context state.
	Release() error
}

// StepInput carries one round of handshake input to the provider.
type StepInput struct {
	Credential Credential
	Context    ContextHandle // nil before the first successful round
	Target     string        // target identity, initiator side only
	InputToken []byte        // nil on the initiator's first round
	Flags      ContextFlag   // requested protections
	DataRep    DataRep
}

// StepResult carries the provider's answer to one handshake round.
// Status is classified by the engine; OutputToken may be empty on the
// final round.
type StepResult struct {
	Context     ContextHandle
	Flags       ContextFlag // protections negotiated so far
	Expiry      time.Time
	Status      Status
	PeerName    string // peer principal, once known to the provider
	OutputToken []byte
}

// Provider is the boundary with the external security provider.  The
// negotiation algorithm, key derivation and cipher suites live entirely
// behind it; this layer only sizes buffers, sequences calls and
// classifies statuses.
//
// The per-message calls receive a buffer descriptor whose ordering and
// tags are operation specific (see the BaseAuth operations); providers
// must reject descriptors that do not match with StatusInvalidBuffer.
// Calls on the same context are serialized by the engines.
type Provider interface {
	// Name returns the unique package name of the provider.
	Name() string

	// QueryPackageInfo returns the capability descriptor for pkg, or an
	// error unwrapping to ErrProviderUnavailable if the provider does not
	// serve that package.
	QueryPackageInfo(pkg string) (*PackageInfo, error)

	// AcquireCredential obtains a credential for the given role.
	// principal and identity are optional; a rejected acquisition is
	// reported as a *CredentialError.
	AcquireCredential(pkg string, usage CredUsage, principal string, identity *AuthIdentity) (Credential, error)

	// NegotiateStep performs one handshake round.  The role is implied by
	// the credential usage.  A returned error is terminal for the
	// handshake; continuation and completion are reported through
	// StepResult.Status.
	NegotiateStep(in StepInput) (*StepResult, error)

	// FinalizeToken performs the provider's complete-token step on an
	// output token whose status classified as needing finalization.
	FinalizeToken(ctx ContextHandle, token []byte) ([]byte, error)

	// Protect applies confidentiality and integrity to the descriptor in
	// place, under the given sequence number.
	Protect(ctx ContextHandle, seq uint64, bufs []Buffer) error

	// Unprotect reverses Protect.  Tampering and replay-window violations
	// are reported with StatusMessageAltered or StatusOutOfSequence.
	Unprotect(ctx ContextHandle, seq uint64, bufs []Buffer) error

	// MakeSignature fills the descriptor's token buffer with a detached
	// signature over the data buffer.
	MakeSignature(ctx ContextHandle, seq uint64, bufs []Buffer) error

	// VerifySignature checks a detached signature; a mismatch is reported
	// with StatusSignatureInvalid.
	VerifySignature(ctx ContextHandle, seq uint64, bufs []Buffer) error
}

var registry struct {
	sync.Mutex
	providers map[string]ProviderConstructor
}

func init() {
	registry.providers = make(map[string]ProviderConstructor)
}

// ProviderConstructor defines the function signature passed to
// RegisterProvider, used to create new instances of a provider.
type ProviderConstructor func() (Provider, error)

// RegisterProvider associates the supplied provider factory with the
// unique package name.  If a provider with name is already registered,
// the new factory replaces the existing registration.
//
// Providers must register themselves by calling RegisterProvider in
// their init() function and should document the name they use.
func RegisterProvider(name string, f ProviderConstructor) {
	registry.Lock()
	defer registry.Unlock()

	registry.providers[name] = f
}

// NewProvider instantiates a provider given its package name, by
// calling the factory registered against the name.  The returned error
// unwraps to ErrProviderUnavailable when the name is not registered.
func NewProvider(name string) (Provider, error) {
	registry.Lock()
	defer registry.Unlock()

	f, ok := registry.providers[name]
	if !ok {
		return nil, &ProviderError{Op: "lookup " + name, Status: StatusPackageUnknown}
	}

	return f()
}

// MustNewProvider wraps NewProvider in a panic.  It panics if the name
// is not registered or the constructor returns an error.
func MustNewProvider(name string) Provider {
	p, err := NewProvider(name)
	if err != nil {
		panic(err)
	}

	return p
}
