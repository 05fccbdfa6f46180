// SPDX-License-Identifier: Apache-2.0

package jwtauth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-secneg"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, minKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func newPair(t *testing.T, clientKey, serverKey []byte, target string) (*secneg.Client, *secneg.Server) {
	t.Helper()

	cl, err := secneg.NewClient(PackageName,
		secneg.WithIdentity(&secneg.AuthIdentity{Principal: "client@test", Secret: clientKey}),
		secneg.WithTarget(target),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	srv, err := secneg.NewServer(PackageName,
		secneg.WithIdentity(&secneg.AuthIdentity{Principal: "service@test", Secret: serverKey}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	return cl, srv
}

func establishedPair(t *testing.T) (*secneg.Client, *secneg.Server) {
	t.Helper()

	key := testKey(t)
	cl, srv := newPair(t, key, key, "service@test")

	_, tok1, err := cl.Authorize(nil)
	require.NoError(t, err)
	_, tok2, err := srv.Authorize(tok1)
	require.NoError(t, err)
	_, _, err = cl.Authorize(tok2)
	require.NoError(t, err)

	return cl, srv
}

func TestHandshake(t *testing.T) {
	assert := assert.New(t)

	key := testKey(t)
	cl, srv := newPair(t, key, key, "service@test")

	outcome, tok1, err := cl.Authorize(nil)
	require.NoError(t, err)
	assert.Equal(secneg.OutcomeContinue, outcome)

	// the assertion is a compact JWT
	assert.Equal(3, len(strings.Split(string(tok1), ".")))

	outcome, tok2, err := srv.Authorize(tok1)
	require.NoError(t, err)
	assert.Equal(secneg.OutcomeCompleteNeedsFinalToken, outcome)
	assert.True(srv.Established())
	assert.Equal("client@test", srv.PeerName())

	// the engine finalized the acceptor's reply: it must already be
	// signed, not the JSON draft
	assert.Equal(3, len(strings.Split(string(tok2), ".")))
	assert.False(json.Valid(tok2))

	outcome, tok3, err := cl.Authorize(tok2)
	require.NoError(t, err)
	assert.Equal(secneg.OutcomeComplete, outcome)
	assert.Empty(tok3)
	assert.True(cl.Established())
	assert.Equal("service@test", cl.PeerName())
}

func TestMessageRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cl, srv := establishedPair(t)

	msg := []byte("protected application data")
	trailer, ciphertext, err := cl.Encrypt(msg)
	require.NoError(t, err)
	assert.NotEqual(msg, ciphertext)

	plain, err := srv.Decrypt(ciphertext, trailer)
	require.NoError(t, err)
	assert.Equal(msg, plain)

	reply := []byte("and back again")
	trailer, ciphertext, err = srv.Encrypt(reply)
	require.NoError(t, err)

	plain, err = cl.Decrypt(ciphertext, trailer)
	require.NoError(t, err)
	assert.Equal(reply, plain)
}

func TestTamperedMessage(t *testing.T) {
	cl, srv := establishedPair(t)

	trailer, ciphertext, err := cl.Encrypt([]byte("original"))
	require.NoError(t, err)

	trailer[0] ^= 0x01
	_, err = srv.Decrypt(ciphertext, trailer)
	require.Error(t, err)
	assert.ErrorIs(t, err, secneg.ErrIntegrity)
}

func TestDetachedSignatures(t *testing.T) {
	cl, srv := establishedPair(t)

	data := []byte("signed payload")
	sig, err := srv.Sign(data)
	require.NoError(t, err)

	require.NoError(t, cl.VerifySignature(data, sig))

	err = cl.VerifySignature([]byte("other payload"), sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, secneg.ErrSignatureInvalid)
}

func TestWrongKey(t *testing.T) {
	cl, srv := newPair(t, testKey(t), testKey(t), "service@test")

	_, tok1, err := cl.Authorize(nil)
	require.NoError(t, err)

	_, _, err = srv.Authorize(tok1)
	require.Error(t, err)

	var pe *secneg.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, secneg.StatusLogonDenied, pe.Status)
	assert.Equal(t, secneg.AuthStateFailed, srv.State())
}

func TestWrongAudience(t *testing.T) {
	key := testKey(t)
	cl, srv := newPair(t, key, key, "someone-else@test")

	_, tok1, err := cl.Authorize(nil)
	require.NoError(t, err)

	_, _, err = srv.Authorize(tok1)
	require.Error(t, err)

	var pe *secneg.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, secneg.StatusLogonDenied, pe.Status)
}

func TestGarbageAssertion(t *testing.T) {
	key := testKey(t)
	_, srv := newPair(t, key, key, "service@test")

	_, _, err := srv.Authorize([]byte("not a JWT at all"))
	require.Error(t, err)

	var pe *secneg.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, secneg.StatusInvalidToken, pe.Status)
}

func TestCredentialValidation(t *testing.T) {
	_, err := secneg.NewClient(PackageName,
		secneg.WithIdentity(&secneg.AuthIdentity{Principal: "client@test", Secret: []byte("too short")}),
	)
	require.Error(t, err)

	var ce *secneg.CredentialError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, secneg.StatusNoCredentials, ce.Status)
}

func TestQueryPackageInfo(t *testing.T) {
	p := secneg.MustNewProvider(PackageName)

	info, err := p.QueryPackageInfo(PackageName)
	require.NoError(t, err)
	assert.Equal(t, PackageName, info.Name)
	assert.Equal(t, maxTokenSize, info.MaxTokenSize)

	_, err = p.QueryPackageInfo("other")
	require.Error(t, err)
	assert.ErrorIs(t, err, secneg.ErrProviderUnavailable)
}
