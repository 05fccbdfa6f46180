// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"sync"
	"time"

	"github.com/golang-auth/go-secneg/observ"
)

// AuthState tracks the handshake state machine of an engine.
// Authenticated is only reachable from InProgress via a terminal
// success status; Failed is sticky until Reset.
type AuthState int

const (
	AuthStateIdle AuthState = iota
	AuthStateInProgress
	AuthStateAuthenticated
	AuthStateFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthStateIdle:
		return "idle"
	case AuthStateInProgress:
		return "in-progress"
	case AuthStateAuthenticated:
		return "authenticated"
	case AuthStateFailed:
		return "failed"
	}

	return "unknown"
}

// seqCounter allocates the per-context monotonic sequence numbers.
// A number is consumed exactly once per provider call and never reused
// within the context's lifetime.
type seqCounter struct {
	n uint64
}

// next returns the current value and advances the counter.
func (c *seqCounter) next() uint64 {
	n := c.n
	c.n++
	return n
}

func (c *seqCounter) reset() {
	c.n = 0
}

// baseAuth holds the state shared by both engine roles: the provider,
// package capabilities, the credential, the context handle, the
// sequence counter and the auth state.  All provider calls on the
// context are serialized through mu; credentials may be shared
// read-only across engines but each context is exclusively owned.
type baseAuth struct {
	mu sync.Mutex

	provider Provider
	pkg      *PackageInfo
	cred     Credential
	role     observ.Role
	obs      observ.Observer

	ctx      ContextHandle
	seq      seqCounter
	state    AuthState
	rounds   int
	reqFlags ContextFlag
	flags    ContextFlag
	expiry   time.Time
	peerName string
	target   string
	dataRep  DataRep
}

// State returns the current handshake state.
func (b *baseAuth) State() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Established reports whether the handshake has completed and the
// per-message operations are usable.
func (b *baseAuth) Established() bool {
	return b.State() == AuthStateAuthenticated
}

// NegotiatedFlags returns the protections negotiated so far.  The value
// may grow while the handshake is in progress.
func (b *baseAuth) NegotiatedFlags() ContextFlag {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flags
}

// ExpiresAt returns the provider-reported context expiry.  The zero
// time means the provider reported no expiry.
func (b *baseAuth) ExpiresAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.expiry
}

// PeerName returns the peer principal once the provider has identified
// it, or the empty string.
func (b *baseAuth) PeerName() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.peerName
}

// PackageInfo returns the capability descriptor queried at setup.
func (b *baseAuth) PackageInfo() PackageInfo {
	return *b.pkg
}

// Reset returns the engine to the Idle state: the context handle is
// released, the authenticated flag cleared and the sequence counter
// zeroed.  Credentials are not touched.  Reset is idempotent.
func (b *baseAuth) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()
}

func (b *baseAuth) resetLocked() {
	if b.ctx != nil {
		_ = b.ctx.Release()
		b.ctx = nil
	}
	b.seq.reset()
	b.state = AuthStateIdle
	b.rounds = 0
	b.flags = 0
	b.expiry = time.Time{}
	b.peerName = ""
}

// Close tears the engine down: the context is released as for Reset and
// the credential is released too.  The engine must not be used
// afterwards.
func (b *baseAuth) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetLocked()

	if b.cred == nil {
		return nil
	}
	err := b.cred.Release()
	b.cred = nil
	return err
}

// authorize runs one handshake round.  Both engine roles share it; the
// only asymmetry is the construction-time credential usage and target.
func (b *baseAuth) authorize(inToken []byte) (Outcome, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case AuthStateFailed:
		return OutcomeError, nil, ErrHandshakeFailed
	case AuthStateAuthenticated:
		return OutcomeError, nil, ErrEstablished
	}

	b.state = AuthStateInProgress
	b.rounds++
	b.obs.HandshakeRound(b.role)

	if len(inToken) > b.pkg.MaxTokenSize {
		b.fail()
		return OutcomeError, nil, &ProviderError{Op: "negotiate", Status: StatusInvalidToken}
	}

	res, err := b.provider.NegotiateStep(StepInput{
		Credential: b.cred,
		Context:    b.ctx,
		Target:     b.target,
		InputToken: inToken,
		Flags:      b.reqFlags,
		DataRep:    b.dataRep,
	})
	if err != nil {
		b.fail()
		return OutcomeError, nil, err
	}

	outcome := res.Status.Classify()
	if outcome == OutcomeError {
		b.fail()
		return OutcomeError, nil, &ProviderError{Op: "negotiate", Status: res.Status}
	}

	// The provider may hand back a new handle on any round (for most
	// providers only on the first); ownership moves to this engine.
	if res.Context != nil {
		b.ctx = res.Context
	}
	b.flags = res.Flags
	b.expiry = res.Expiry
	if res.PeerName != "" {
		b.peerName = res.PeerName
	}

	outToken := res.OutputToken
	if outcome == OutcomeCompleteNeedsFinalToken || outcome == OutcomeCompleteAndContinue {
		outToken, err = b.provider.FinalizeToken(b.ctx, outToken)
		if err != nil {
			b.fail()
			return OutcomeError, nil, err
		}
	}

	if outcome.Established() {
		b.state = AuthStateAuthenticated
		b.obs.HandshakeDone(b.role, b.rounds, true)
	}

	return outcome, outToken, nil
}

func (b *baseAuth) fail() {
	b.state = AuthStateFailed
	b.obs.HandshakeDone(b.role, b.rounds, false)
}

// Encrypt protects plaintext under the established context.  It returns
// the provider-generated trailer and the ciphertext; both must be
// transported to the peer and handed to Decrypt together.  The trailer
// buffer is sized from the package's maximum signature size and
// returned at the length the provider produced.
func (b *baseAuth) Encrypt(plaintext []byte) (trailer, ciphertext []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AuthStateAuthenticated {
		return nil, nil, ErrNotAuthenticated
	}

	bufs := []Buffer{
		{Type: BufferTypeToken, Bytes: make([]byte, b.pkg.MaxSignatureSize)},
		{Type: BufferTypeData, Bytes: append([]byte(nil), plaintext...)},
	}

	err = b.provider.Protect(b.ctx, b.seq.next(), bufs)
	b.obs.ProtectOp("encrypt", err == nil)
	if err != nil {
		return nil, nil, err
	}

	return bufs[0].Bytes, bufs[1].Bytes, nil
}

// Decrypt reverses Encrypt.  A tampered frame or a sequence number
// outside the expected window yields an error unwrapping to
// ErrIntegrity.
func (b *baseAuth) Decrypt(ciphertext, trailer []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AuthStateAuthenticated {
		return nil, ErrNotAuthenticated
	}

	bufs := []Buffer{
		{Type: BufferTypeToken, Bytes: append([]byte(nil), trailer...)},
		{Type: BufferTypeData, Bytes: append([]byte(nil), ciphertext...)},
	}

	err := b.provider.Unprotect(b.ctx, b.seq.next(), bufs)
	b.obs.ProtectOp("decrypt", err == nil)
	if err != nil {
		return nil, err
	}

	return bufs[1].Bytes, nil
}

// Sign produces a detached signature over data.  The token buffer is
// sized from the package's maximum signature size; the data itself is
// not modified.
func (b *baseAuth) Sign(data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AuthStateAuthenticated {
		return nil, ErrNotAuthenticated
	}

	bufs := []Buffer{
		{Type: BufferTypeData, Bytes: data},
		{Type: BufferTypeToken, Bytes: make([]byte, b.pkg.MaxSignatureSize)},
	}

	err := b.provider.MakeSignature(b.ctx, b.seq.next(), bufs)
	b.obs.ProtectOp("sign", err == nil)
	if err != nil {
		return nil, err
	}

	return bufs[1].Bytes, nil
}

// VerifySignature checks a detached signature produced by the peer's
// Sign.  A mismatch yields an error unwrapping to ErrSignatureInvalid;
// that outcome is security relevant and is never swallowed or retried.
func (b *baseAuth) VerifySignature(data, signature []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AuthStateAuthenticated {
		return ErrNotAuthenticated
	}

	bufs := []Buffer{
		{Type: BufferTypeData, Bytes: data},
		{Type: BufferTypeToken, Bytes: signature},
	}

	err := b.provider.VerifySignature(b.ctx, b.seq.next(), bufs)
	b.obs.ProtectOp("verify", err == nil)
	return err
}
