// SPDX-License-Identifier: Apache-2.0

package x25519

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/golang-auth/go-secneg"
)

// Handshake token wire formats.  Fixed-width fields, names carried with
// a 16-bit length prefix, tags always last so they cover everything the
// transcript covers.
//
//	init:  msgInit | pub(32) | nonce(32) | nameLen(2) | name
//	resp:  msgResp | pub(32) | nonce(32) | handshakeID(16) | nameLen(2) | name | tag(32)
//	ack:   msgAck  | handshakeID(16) | tag(32)

const (
	keySize   = 32
	nonceSize = 32
	tagSize   = 32
	idSize    = 16
)

type initToken struct {
	pub      []byte
	nonce    [nonceSize]byte
	peerName string
}

type respToken struct {
	pub         []byte
	nonce       [nonceSize]byte
	handshakeID uuid.UUID
	peerName    string
	tag         []byte
}

type ackToken struct {
	handshakeID uuid.UUID
	tag         []byte
}

func badToken() error {
	return &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
}

func encodeInit(ctx *secContext) []byte {
	out := make([]byte, 0, 1+keySize+nonceSize+2+len(ctx.localName))
	out = append(out, msgInit)
	out = append(out, ctx.pub...)
	out = append(out, ctx.nonce[:]...)
	out = appendName(out, ctx.localName)
	return out
}

func parseInit(tok []byte) (*initToken, error) {
	if len(tok) < 1+keySize+nonceSize+2 || tok[0] != msgInit {
		return nil, badToken()
	}
	tok = tok[1:]

	t := &initToken{pub: append([]byte(nil), tok[:keySize]...)}
	tok = tok[keySize:]
	copy(t.nonce[:], tok[:nonceSize])
	tok = tok[nonceSize:]

	name, tok, err := takeName(tok)
	if err != nil || len(tok) != 0 {
		return nil, badToken()
	}
	t.peerName = name

	return t, nil
}

func encodeResp(ctx *secContext, tag []byte) []byte {
	out := make([]byte, 0, 1+keySize+nonceSize+idSize+2+len(ctx.localName)+tagSize)
	out = append(out, msgResp)
	out = append(out, ctx.pub...)
	out = append(out, ctx.nonce[:]...)
	out = append(out, ctx.handshakeID[:]...)
	out = appendName(out, ctx.localName)
	out = append(out, tag...)
	return out
}

func parseResp(tok []byte) (*respToken, error) {
	if len(tok) < 1+keySize+nonceSize+idSize+2+tagSize || tok[0] != msgResp {
		return nil, badToken()
	}
	tok = tok[1:]

	t := &respToken{pub: append([]byte(nil), tok[:keySize]...)}
	tok = tok[keySize:]
	copy(t.nonce[:], tok[:nonceSize])
	tok = tok[nonceSize:]
	copy(t.handshakeID[:], tok[:idSize])
	tok = tok[idSize:]

	name, tok, err := takeName(tok)
	if err != nil || len(tok) != tagSize {
		return nil, badToken()
	}
	t.peerName = name
	t.tag = append([]byte(nil), tok...)

	return t, nil
}

func encodeAck(id uuid.UUID, tag []byte) []byte {
	out := make([]byte, 0, 1+idSize+tagSize)
	out = append(out, msgAck)
	out = append(out, id[:]...)
	out = append(out, tag...)
	return out
}

func parseAck(tok []byte) (*ackToken, error) {
	if len(tok) != 1+idSize+tagSize || tok[0] != msgAck {
		return nil, badToken()
	}
	tok = tok[1:]

	t := &ackToken{}
	copy(t.handshakeID[:], tok[:idSize])
	t.tag = append([]byte(nil), tok[idSize:]...)

	return t, nil
}

func appendName(out []byte, name string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(name)))
	out = append(out, l[:]...)
	return append(out, name...)
}

func takeName(tok []byte) (string, []byte, error) {
	if len(tok) < 2 {
		return "", nil, badToken()
	}
	n := int(binary.BigEndian.Uint16(tok))
	tok = tok[2:]
	if len(tok) < n {
		return "", nil, badToken()
	}

	return string(tok[:n]), tok[n:], nil
}
