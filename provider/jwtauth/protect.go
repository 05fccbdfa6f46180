// SPDX-License-Identifier: Apache-2.0

package jwtauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/hkdf"

	"github.com/golang-auth/go-secneg"
)

const gcmNonceSize = 12

// deriveKeys expands the shared signing key into directional AES-GCM
// and HMAC keys, bound to both assertions' nonces and token IDs.
func (c *secContext) deriveKeys(initNonce, initJTI, accNonce, accJTI string) error {
	salt := []byte(initNonce + "|" + accNonce)
	info := []byte("secneg-jwt-v1|" + initJTI + "|" + accJTI)
	r := hkdf.New(sha256.New, c.key, salt, info)

	keys := make([][]byte, 4) // i2a seal, a2i seal, i2a mac, a2i mac
	for i := range keys {
		keys[i] = make([]byte, 32)
		if _, err := r.Read(keys[i]); err != nil {
			return &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
		}
	}

	i2a, err := newGCM(keys[0])
	if err != nil {
		return err
	}
	a2i, err := newGCM(keys[1])
	if err != nil {
		return err
	}

	if c.initiator {
		c.sealSend, c.sealRecv = i2a, a2i
		c.macSend, c.macRecv = keys[2], keys[3]
	} else {
		c.sealSend, c.sealRecv = a2i, i2a
		c.macSend, c.macRecv = keys[3], keys[2]
	}

	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	return aead, nil
}

func contextFor(op string, h secneg.ContextHandle) (*secContext, error) {
	ctx, ok := h.(*secContext)
	if !ok || !ctx.established {
		return nil, &secneg.ProviderError{Op: op, Status: secneg.StatusInvalidHandle}
	}

	return ctx, nil
}

func sealNonce(seq uint64) []byte {
	nonce := make([]byte, gcmNonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

func (provider) Protect(h secneg.ContextHandle, seq uint64, bufs []secneg.Buffer) error {
	ctx, err := contextFor("protect", h)
	if err != nil {
		return err
	}
	if err := secneg.CheckBufferOrder(bufs, secneg.BufferTypeToken, secneg.BufferTypeData); err != nil {
		return err
	}

	data := bufs[1].Bytes
	if len(data) > maxMessageSize {
		return &secneg.ProviderError{Op: "protect", Status: secneg.StatusInvalidBuffer}
	}
	if len(bufs[0].Bytes) < ctx.sealSend.Overhead() {
		return &secneg.ProviderError{Op: "protect", Status: secneg.StatusInvalidBuffer}
	}

	sealed := ctx.sealSend.Seal(nil, sealNonce(seq), data, nil)
	copy(data, sealed[:len(data)])
	bufs[0].Bytes = sealed[len(data):]

	return nil
}

func (provider) Unprotect(h secneg.ContextHandle, seq uint64, bufs []secneg.Buffer) error {
	ctx, err := contextFor("unprotect", h)
	if err != nil {
		return err
	}
	if err := secneg.CheckBufferOrder(bufs, secneg.BufferTypeToken, secneg.BufferTypeData); err != nil {
		return err
	}

	trailer := bufs[0].Bytes
	data := bufs[1].Bytes
	if len(trailer) != ctx.sealRecv.Overhead() {
		return &secneg.ProviderError{Op: "unprotect", Status: secneg.StatusMessageAltered}
	}

	sealed := append(append(make([]byte, 0, len(data)+len(trailer)), data...), trailer...)
	plain, err := ctx.sealRecv.Open(nil, sealNonce(seq), sealed, nil)
	if err != nil {
		return &secneg.ProviderError{Op: "unprotect", Status: secneg.StatusMessageAltered}
	}

	copy(data, plain)
	bufs[1].Bytes = data[:len(plain)]

	return nil
}

func signature(key []byte, seq uint64, data []byte) []byte {
	var seqb [8]byte
	binary.BigEndian.PutUint64(seqb[:], seq)

	m := hmac.New(sha256.New, key)
	m.Write(seqb[:])
	m.Write(data)
	return m.Sum(nil)
}

func (provider) MakeSignature(h secneg.ContextHandle, seq uint64, bufs []secneg.Buffer) error {
	ctx, err := contextFor("sign", h)
	if err != nil {
		return err
	}
	if err := secneg.CheckBufferOrder(bufs, secneg.BufferTypeData, secneg.BufferTypeToken); err != nil {
		return err
	}
	if len(bufs[1].Bytes) < maxSignatureSize {
		return &secneg.ProviderError{Op: "sign", Status: secneg.StatusInvalidBuffer}
	}

	bufs[1].Bytes = signature(ctx.macSend, seq, bufs[0].Bytes)

	return nil
}

func (provider) VerifySignature(h secneg.ContextHandle, seq uint64, bufs []secneg.Buffer) error {
	ctx, err := contextFor("verify", h)
	if err != nil {
		return err
	}
	if err := secneg.CheckBufferOrder(bufs, secneg.BufferTypeData, secneg.BufferTypeToken); err != nil {
		return err
	}

	want := signature(ctx.macRecv, seq, bufs[0].Bytes)
	if !hmac.Equal(want, bufs[1].Bytes) {
		return &secneg.ProviderError{Op: "verify", Status: secneg.StatusSignatureInvalid}
	}

	return nil
}
