// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"bytes"
	"testing"

	"github.com/golang-auth/go-secneg/observ"
)

func TestClientHandshake(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusContinueNeeded, token: []byte("leg1")},
		{status: StatusOK},
		{status: StatusContinueNeeded, token: []byte("leg1")},
		{status: StatusOK},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name, WithTarget("svc@host"))
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	assert.Equal(AuthStateIdle, cl.State())
	assert.False(cl.Established())

	outcome, token, err := cl.Authorize(nil)
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeContinue, outcome)
	assert.True(outcome.ContinueNeeded())
	assert.Equal([]byte("leg1"), token)
	assert.Equal(AuthStateInProgress, cl.State())

	outcome, token, err = cl.Authorize([]byte("reply"))
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeComplete, outcome)
	assert.Empty(token)
	assert.True(cl.Established())
	assert.Equal("peer@test", cl.PeerName())
	assert.Equal(DefaultFlags, cl.NegotiatedFlags())
	assert.False(cl.ExpiresAt().IsZero())

	// an established engine refuses further rounds
	_, _, err = cl.Authorize(nil)
	assert.ErrorIs(err, ErrEstablished)

	// Reset allows a fresh handshake with a fresh sequence space
	cl.Reset()
	assert.Equal(AuthStateIdle, cl.State())
	assert.Empty(cl.PeerName())

	outcome, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeContinue, outcome)
}

func TestServerFinalizeToken(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusCompleteNeeded, token: []byte("draft")},
	}}
	name := registerFake(t, p)

	srv, err := NewServer(name)
	assert.NoErrorFatal(err)
	defer srv.Close() //nolint:errcheck

	outcome, token, err := srv.Authorize([]byte("hello"))
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeCompleteNeedsFinalToken, outcome)
	assert.True(outcome.Established())
	assert.True(srv.Established())

	// the engine runs the finalization before handing the token back
	assert.Equal([]byte("draft-final"), token)
	assert.Equal([][]byte{[]byte("draft")}, p.finalized)
}

func TestCompleteAndContinue(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusCompleteAndContinue, token: []byte("draft")},
		{status: StatusOK},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	outcome, token, err := cl.Authorize(nil)
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeCompleteAndContinue, outcome)
	assert.Equal([]byte("draft-final"), token)

	// finalized but not yet established: more rounds follow
	assert.True(outcome.ContinueNeeded())
	assert.False(outcome.Established())
	assert.Equal(AuthStateInProgress, cl.State())

	outcome, _, err = cl.Authorize([]byte("reply"))
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeComplete, outcome)
	assert.True(cl.Established())
}

func TestHandshakeFailureSticky(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{err: &ProviderError{Op: "negotiate", Status: StatusLogonDenied}},
		{status: StatusContinueNeeded, token: []byte("leg1")},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	outcome, _, err := cl.Authorize(nil)
	assert.Equal(OutcomeError, outcome)
	assert.Error(err)
	assert.Equal(AuthStateFailed, cl.State())

	// Failed is sticky: the provider must not see another step
	_, _, err = cl.Authorize(nil)
	assert.ErrorIs(err, ErrHandshakeFailed)
	assert.Equal(1, p.stepIdx)

	cl.Reset()
	assert.Equal(AuthStateIdle, cl.State())

	outcome, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeContinue, outcome)
}

func TestErrorStatusFailsHandshake(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusLogonDenied},
	}}
	name := registerFake(t, p)

	srv, err := NewServer(name)
	assert.NoErrorFatal(err)
	defer srv.Close() //nolint:errcheck

	outcome, _, err := srv.Authorize([]byte("hello"))
	assert.Equal(OutcomeError, outcome)
	assert.Error(err)

	var pe *ProviderError
	assert.ErrorAs(err, &pe)
	assert.Equal(StatusLogonDenied, pe.Status)
	assert.Equal(AuthStateFailed, srv.State())
}

func TestOversizeTokenRejected(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusOK},
	}}
	name := registerFake(t, p)

	obs := &recordingObserver{}
	srv, err := NewServer(name, WithObserver(obs))
	assert.NoErrorFatal(err)
	defer srv.Close() //nolint:errcheck

	big := make([]byte, fakeMaxTokenSize+1)
	_, _, err = srv.Authorize(big)
	assert.Error(err)

	var pe *ProviderError
	assert.ErrorAs(err, &pe)
	assert.Equal(StatusInvalidToken, pe.Status)

	// rejected before the provider was consulted
	assert.Equal(0, p.stepIdx)
	assert.Equal(AuthStateFailed, srv.State())

	// the rejection still counts as a round: the observer sees one
	// round and a failed handshake after it
	assert.Equal(1, obs.rounds)
	assert.Equal([]bool{false}, obs.done)
	assert.Equal([]int{1}, obs.doneAfter)
}

func TestMessageOpsRequireEstablishment(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusContinueNeeded, token: []byte("leg1")},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	checkAll := func() {
		_, _, err := cl.Encrypt([]byte("msg"))
		assert.ErrorIs(err, ErrNotAuthenticated)
		_, err = cl.Decrypt([]byte("msg"), []byte("trailer"))
		assert.ErrorIs(err, ErrNotAuthenticated)
		_, err = cl.Sign([]byte("msg"))
		assert.ErrorIs(err, ErrNotAuthenticated)
		err = cl.VerifySignature([]byte("msg"), []byte("sig"))
		assert.ErrorIs(err, ErrNotAuthenticated)
	}

	// Idle
	checkAll()

	// InProgress
	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	checkAll()

	// no provider message op may have run
	assert.Empty(p.ops)
}

func establishedClient(t *testing.T, p *fakeProvider) *Client {
	t.Helper()
	assert := NewAssert(t)

	p.steps = append(p.steps, fakeStep{status: StatusOK})
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	t.Cleanup(func() { _ = cl.Close() })

	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	return cl
}

func TestSequenceNumbers(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{}
	cl := establishedClient(t, p)

	_, _, err := cl.Encrypt([]byte("one"))
	assert.NoErrorFatal(err)
	_, _, err = cl.Encrypt([]byte("two"))
	assert.NoErrorFatal(err)
	_, err = cl.Sign([]byte("three"))
	assert.NoErrorFatal(err)

	var seqs []uint64
	for _, op := range p.ops {
		seqs = append(seqs, op.seq)
	}
	assert.Equal([]uint64{0, 1, 2}, seqs)
}

func TestBufferDescriptors(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{}
	cl := establishedClient(t, p)

	trailer, ciphertext, err := cl.Encrypt([]byte("message"))
	assert.NoErrorFatal(err)
	assert.Equal([]byte("trailer"), trailer)
	assert.Len(ciphertext, len("message"))

	_, err = cl.Decrypt(ciphertext, trailer)
	assert.NoErrorFatal(err)

	sig, err := cl.Sign([]byte("message"))
	assert.NoErrorFatal(err)
	assert.Equal([]byte("signature"), sig)

	err = cl.VerifySignature([]byte("message"), sig)
	assert.NoErrorFatal(err)

	err = cl.VerifySignature([]byte("message"), []byte("bogus"))
	assert.ErrorIs(err, ErrSignatureInvalid)

	// Encrypt and Decrypt use [Token, Data]; Sign and Verify use [Data, Token]
	wantTypes := [][]BufferType{
		{BufferTypeToken, BufferTypeData},
		{BufferTypeToken, BufferTypeData},
		{BufferTypeData, BufferTypeToken},
		{BufferTypeData, BufferTypeToken},
		{BufferTypeData, BufferTypeToken},
	}
	for i, op := range p.ops {
		assert.Equal(wantTypes[i], op.types, op.op)
	}
}

func TestEncryptDoesNotAliasInput(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{}
	cl := establishedClient(t, p)

	plaintext := []byte("sensitive")
	_, ciphertext, err := cl.Encrypt(plaintext)
	assert.NoErrorFatal(err)

	assert.True(bytes.Equal(plaintext, []byte("sensitive")))
	if len(ciphertext) > 0 {
		assert.NotSame(&plaintext[0], &ciphertext[0])
	}
}

func TestClose(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{{status: StatusOK}}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)

	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)

	assert.NoError(cl.Close())
	assert.Len(p.ctxs, 1)
	assert.True(p.ctxs[0].released)
	assert.Len(p.creds, 1)
	assert.True(p.creds[0].released)

	// Close is idempotent
	assert.NoError(cl.Close())
}

func TestResetIdempotent(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusOK},
		{status: StatusOK},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	_, _, err = cl.Encrypt([]byte("msg"))
	assert.NoErrorFatal(err)

	// a second Reset leaves the engine exactly as the first did
	cl.Reset()
	cl.Reset()

	assert.Equal(AuthStateIdle, cl.State())
	assert.Empty(cl.PeerName())
	assert.True(cl.ExpiresAt().IsZero())
	assert.Zero(cl.NegotiatedFlags())

	// and the sequence space restarted at zero
	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	_, _, err = cl.Encrypt([]byte("msg"))
	assert.NoErrorFatal(err)

	assert.Equal(uint64(0), p.ops[len(p.ops)-1].seq)
}

func TestResetIdempotentAfterFailure(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusLogonDenied},
		{status: StatusContinueNeeded, token: []byte("leg1")},
	}}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	_, _, err = cl.Authorize(nil)
	assert.Error(err)
	assert.Equal(AuthStateFailed, cl.State())

	cl.Reset()
	cl.Reset()
	assert.Equal(AuthStateIdle, cl.State())
	assert.Empty(cl.PeerName())

	outcome, _, err := cl.Authorize(nil)
	assert.NoErrorFatal(err)
	assert.Equal(OutcomeContinue, outcome)
}

func TestPackageInfo(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{}
	name := registerFake(t, p)

	cl, err := NewClient(name)
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	info := cl.PackageInfo()
	assert.Equal(name, info.Name)
	assert.Equal(fakeMaxTokenSize, info.MaxTokenSize)
}

// recordingObserver counts the hook invocations.
type recordingObserver struct {
	rounds    int
	done      []bool
	doneAfter []int
	ops       []string
}

func (o *recordingObserver) HandshakeRound(role observ.Role) {
	o.rounds++
}

func (o *recordingObserver) HandshakeDone(role observ.Role, rounds int, ok bool) {
	o.done = append(o.done, ok)
	o.doneAfter = append(o.doneAfter, rounds)
}

func (o *recordingObserver) ProtectOp(op string, ok bool) {
	o.ops = append(o.ops, op)
}

func TestObserverHooks(t *testing.T) {
	assert := NewAssert(t)

	p := &fakeProvider{steps: []fakeStep{
		{status: StatusContinueNeeded, token: []byte("leg1")},
		{status: StatusOK},
	}}
	name := registerFake(t, p)

	obs := &recordingObserver{}
	cl, err := NewClient(name, WithObserver(obs))
	assert.NoErrorFatal(err)
	defer cl.Close() //nolint:errcheck

	_, _, err = cl.Authorize(nil)
	assert.NoErrorFatal(err)
	_, _, err = cl.Authorize([]byte("reply"))
	assert.NoErrorFatal(err)

	assert.Equal(2, obs.rounds)
	assert.Equal([]bool{true}, obs.done)
	assert.Equal([]int{2}, obs.doneAfter)

	_, _, err = cl.Encrypt([]byte("msg"))
	assert.NoErrorFatal(err)
	_, err = cl.Sign([]byte("msg"))
	assert.NoErrorFatal(err)

	assert.Equal([]string{"encrypt", "sign"}, obs.ops)
}
