// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Local version of testify/assert  with some extensions
type myassert struct {
	*assert.Assertions

	t *testing.T
}

// Fail the test immediately on error
func (a *myassert) NoErrorFatal(err error) {
	a.NoError(err)
	if err != nil {
		a.t.Logf("Stopping test %s due to fatal error", a.t.Name())
		a.t.FailNow()
	}
}

func NewAssert(t *testing.T) *myassert {
	a := assert.New(t)
	return &myassert{a, t}
}

// fakeStep is one scripted NegotiateStep answer.
type fakeStep struct {
	status Status
	token  []byte
	err    error
}

// opRecord captures one per-message provider call.
type opRecord struct {
	op    string
	seq   uint64
	types []BufferType
}

// fakeProvider plays back a handshake script and records every
// per-message call so tests can check sequencing and buffer order.
type fakeProvider struct {
	steps   []fakeStep
	stepIdx int

	finalized  [][]byte
	ops        []opRecord
	protectErr error

	ctxs  []*fakeContext
	creds []*fakeCredential
}

type fakeContext struct {
	released bool
}

func (c *fakeContext) Release() error {
	c.released = true
	return nil
}

type fakeCredential struct {
	usage    CredUsage
	released bool
}

func (c *fakeCredential) Usage() CredUsage { return c.usage }
func (c *fakeCredential) Expiry() time.Time {
	return time.Now().Add(time.Hour)
}

func (c *fakeCredential) Release() error {
	c.released = true
	return nil
}

const fakeMaxTokenSize = 64

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) QueryPackageInfo(pkg string) (*PackageInfo, error) {
	return &PackageInfo{
		Name:             pkg,
		MaxTokenSize:     fakeMaxTokenSize,
		MaxMessageSize:   1024,
		MaxSignatureSize: 16,
	}, nil
}

func (p *fakeProvider) AcquireCredential(pkg string, usage CredUsage, principal string, identity *AuthIdentity) (Credential, error) {
	cred := &fakeCredential{usage: usage}
	p.creds = append(p.creds, cred)
	return cred, nil
}

func (p *fakeProvider) NegotiateStep(in StepInput) (*StepResult, error) {
	if p.stepIdx >= len(p.steps) {
		return nil, &ProviderError{Op: "negotiate", Status: StatusInternalError}
	}
	step := p.steps[p.stepIdx]
	p.stepIdx++

	if step.err != nil {
		return nil, step.err
	}

	ctx, _ := in.Context.(*fakeContext)
	if ctx == nil {
		ctx = &fakeContext{}
		p.ctxs = append(p.ctxs, ctx)
	}

	res := &StepResult{
		Context:     ctx,
		Flags:       in.Flags,
		Expiry:      time.Now().Add(time.Hour),
		Status:      step.status,
		OutputToken: step.token,
	}
	if !step.status.IsError() && step.status != StatusContinueNeeded {
		res.PeerName = "peer@test"
	}
	return res, nil
}

func (p *fakeProvider) FinalizeToken(ctx ContextHandle, token []byte) ([]byte, error) {
	p.finalized = append(p.finalized, token)
	return append(append([]byte(nil), token...), []byte("-final")...), nil
}

func (p *fakeProvider) record(op string, seq uint64, bufs []Buffer) {
	rec := opRecord{op: op, seq: seq}
	for _, b := range bufs {
		rec.types = append(rec.types, b.Type)
	}
	p.ops = append(p.ops, rec)
}

func (p *fakeProvider) Protect(ctx ContextHandle, seq uint64, bufs []Buffer) error {
	p.record("protect", seq, bufs)
	if p.protectErr != nil {
		return p.protectErr
	}
	if err := CheckBufferOrder(bufs, BufferTypeToken, BufferTypeData); err != nil {
		return err
	}
	bufs[0].Bytes = []byte("trailer")
	return nil
}

func (p *fakeProvider) Unprotect(ctx ContextHandle, seq uint64, bufs []Buffer) error {
	p.record("unprotect", seq, bufs)
	if p.protectErr != nil {
		return p.protectErr
	}
	return CheckBufferOrder(bufs, BufferTypeToken, BufferTypeData)
}

func (p *fakeProvider) MakeSignature(ctx ContextHandle, seq uint64, bufs []Buffer) error {
	p.record("sign", seq, bufs)
	if err := CheckBufferOrder(bufs, BufferTypeData, BufferTypeToken); err != nil {
		return err
	}
	bufs[1].Bytes = []byte("signature")
	return nil
}

func (p *fakeProvider) VerifySignature(ctx ContextHandle, seq uint64, bufs []Buffer) error {
	p.record("verify", seq, bufs)
	if err := CheckBufferOrder(bufs, BufferTypeData, BufferTypeToken); err != nil {
		return err
	}
	if string(bufs[1].Bytes) != "signature" {
		return &ProviderError{Op: "verify", Status: StatusSignatureInvalid}
	}
	return nil
}

// registerFake registers p under a name unique to the running test and
// returns the name.
func registerFake(t *testing.T, p *fakeProvider) string {
	name := "fake/" + t.Name()
	RegisterProvider(name, func() (Provider, error) {
		return p, nil
	})
	return name
}
