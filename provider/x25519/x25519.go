// SPDX-License-Identifier: Apache-2.0

// Package x25519 provides a pure-Go security provider for the secneg
// negotiation layer, registered under the package name "x25519-psk".
//
// Both peers hold a 32-byte pre-shared key.  The handshake is a mutual
// three-leg exchange: the initiator sends an ephemeral X25519 public
// key and a nonce, the acceptor answers with its own ephemeral key,
// nonce, a handshake ID and a transcript tag, and the initiator closes
// with its tag.  Session keys are derived with HKDF-SHA256 from the
// ECDH shared secret, salted by the PSK and bound to the transcript.
// Message protection is ChaCha20-Poly1305 with the caller-supplied
// sequence number in the nonce; detached signatures are HMAC-SHA256
// over the sequence number and data.
package x25519

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/golang-auth/go-secneg"
)

// PackageName is the name this provider registers under.
const PackageName = "x25519-psk"

const (
	protoLabel = "secneg-x25519-v1"

	credLifetime = 8 * time.Hour
	ctxLifetime  = time.Hour

	maxTokenSize     = 1024
	maxMessageSize   = 64 * 1024
	maxSignatureSize = sha256.Size

	msgInit = 0x01
	msgResp = 0x02
	msgAck  = 0x03
)

// supportedFlags are the protections the package can actually provide.
const supportedFlags = secneg.ContextFlagMutual | secneg.ContextFlagReplay |
	secneg.ContextFlagSequence | secneg.ContextFlagConf | secneg.ContextFlagInteg

func init() {
	secneg.RegisterProvider(PackageName, func() (secneg.Provider, error) {
		return &provider{}, nil
	})
}

type provider struct{}

func (provider) Name() string {
	return PackageName
}

func (provider) QueryPackageInfo(pkg string) (*secneg.PackageInfo, error) {
	if pkg != PackageName {
		return nil, &secneg.ProviderError{Op: "query " + pkg, Status: secneg.StatusPackageUnknown}
	}

	return &secneg.PackageInfo{
		Name:             PackageName,
		MaxTokenSize:     maxTokenSize,
		MaxMessageSize:   maxMessageSize,
		MaxSignatureSize: maxSignatureSize,
	}, nil
}

type credential struct {
	usage  secneg.CredUsage
	name   string
	psk    []byte
	expiry time.Time
}

func (c *credential) Usage() secneg.CredUsage { return c.usage }
func (c *credential) Expiry() time.Time       { return c.expiry }

func (c *credential) Release() error {
	zero(c.psk)
	c.psk = nil
	return nil
}

func (provider) AcquireCredential(pkg string, usage secneg.CredUsage, principal string, identity *secneg.AuthIdentity) (secneg.Credential, error) {
	if pkg != PackageName {
		return nil, &secneg.CredentialError{Package: pkg, Status: secneg.StatusPackageUnknown}
	}
	if identity == nil || len(identity.Secret) != chacha20poly1305.KeySize {
		return nil, &secneg.CredentialError{Package: pkg, Status: secneg.StatusNoCredentials}
	}

	name := principal
	if name == "" {
		name = identity.Principal
	}

	return &credential{
		usage:  usage,
		name:   name,
		psk:    append([]byte(nil), identity.Secret...),
		expiry: time.Now().Add(credLifetime),
	}, nil
}

// secContext is the provider-owned context state.  The handle is opaque
// to the negotiation layer; it owns it exclusively and releases it on
// Reset or teardown.
type secContext struct {
	initiator   bool
	established bool

	priv         *ecdh.PrivateKey
	pub          []byte
	nonce        [32]byte
	peerPub      []byte
	peerNonce    [32]byte
	localName    string
	peerName     string
	handshakeID  uuid.UUID
	inboundFlags secneg.ContextFlag

	sealSend cipher.AEAD
	sealRecv cipher.AEAD
	macSend  []byte
	macRecv  []byte
}

func (c *secContext) Release() error {
	zero(c.macSend)
	zero(c.macRecv)
	c.sealSend = nil
	c.sealRecv = nil
	c.established = false
	return nil
}

func (p *provider) NegotiateStep(in secneg.StepInput) (*secneg.StepResult, error) {
	cred, ok := in.Credential.(*credential)
	if !ok || cred.psk == nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusNoCredentials}
	}
	if time.Now().After(cred.expiry) {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusCredentialsExpired}
	}

	var ctx *secContext
	if in.Context != nil {
		if ctx, ok = in.Context.(*secContext); !ok {
			return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidHandle}
		}
	}

	if cred.usage == secneg.CredUsageOutbound {
		return p.initiatorStep(cred, ctx, in)
	}
	return p.acceptorStep(cred, ctx, in)
}

func (p *provider) initiatorStep(cred *credential, ctx *secContext, in secneg.StepInput) (*secneg.StepResult, error) {
	if ctx == nil {
		// First leg: offer an ephemeral key and nonce.
		if in.InputToken != nil {
			return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
		}

		ctx, err := newSecContext(true, cred.name)
		if err != nil {
			return nil, err
		}

		return &secneg.StepResult{
			Context:     ctx,
			Flags:       in.Flags & supportedFlags,
			Expiry:      time.Now().Add(ctxLifetime),
			Status:      secneg.StatusContinueNeeded,
			OutputToken: encodeInit(ctx),
		}, nil
	}

	// Second leg: the acceptor's reply closes our side.
	resp, err := parseResp(in.InputToken)
	if err != nil {
		return nil, err
	}

	tr := transcript(ctx.pub, ctx.nonce[:], ctx.localName, resp.pub, resp.nonce[:], resp.peerName, resp.handshakeID)
	if !hmac.Equal(resp.tag, transcriptTag(cred.psk, tr, "acceptor")) {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusLogonDenied}
	}

	peerPub, err := ecdh.X25519().NewPublicKey(resp.pub)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}
	shared, err := ctx.priv.ECDH(peerPub)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	if err := ctx.deriveKeys(cred.psk, shared, tr); err != nil {
		return nil, err
	}
	ctx.peerName = resp.peerName
	ctx.handshakeID = resp.handshakeID
	ctx.established = true

	ack := encodeAck(resp.handshakeID, transcriptTag(cred.psk, tr, "initiator"))

	return &secneg.StepResult{
		Context:     ctx,
		Flags:       in.Flags & supportedFlags,
		Expiry:      time.Now().Add(ctxLifetime),
		Status:      secneg.StatusOK,
		PeerName:    resp.peerName,
		OutputToken: ack,
	}, nil
}

func (p *provider) acceptorStep(cred *credential, ctx *secContext, in secneg.StepInput) (*secneg.StepResult, error) {
	if ctx == nil {
		// First leg: consume the initiator's offer, answer with our own.
		initMsg, err := parseInit(in.InputToken)
		if err != nil {
			return nil, err
		}

		ctx, err := newSecContext(false, cred.name)
		if err != nil {
			return nil, err
		}
		ctx.handshakeID = uuid.New()
		ctx.peerName = initMsg.peerName
		ctx.peerPub = initMsg.pub
		ctx.peerNonce = initMsg.nonce
		ctx.inboundFlags = in.Flags & supportedFlags

		tr := transcript(initMsg.pub, initMsg.nonce[:], initMsg.peerName, ctx.pub, ctx.nonce[:], ctx.localName, ctx.handshakeID)
		resp := encodeResp(ctx, transcriptTag(cred.psk, tr, "acceptor"))

		return &secneg.StepResult{
			Context:     ctx,
			Flags:       ctx.inboundFlags,
			Expiry:      time.Now().Add(ctxLifetime),
			Status:      secneg.StatusContinueNeeded,
			PeerName:    initMsg.peerName,
			OutputToken: resp,
		}, nil
	}

	// Second leg: the initiator's ack.
	ack, err := parseAck(in.InputToken)
	if err != nil {
		return nil, err
	}
	if ack.handshakeID != ctx.handshakeID {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusLogonDenied}
	}

	tr := transcript(ctx.peerPub, ctx.peerNonce[:], ctx.peerName, ctx.pub, ctx.nonce[:], ctx.localName, ctx.handshakeID)
	if !hmac.Equal(ack.tag, transcriptTag(cred.psk, tr, "initiator")) {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusLogonDenied}
	}

	peerPub, err := ecdh.X25519().NewPublicKey(ctx.peerPub)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}
	shared, err := ctx.priv.ECDH(peerPub)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	if err := ctx.deriveKeys(cred.psk, shared, tr); err != nil {
		return nil, err
	}
	ctx.established = true

	return &secneg.StepResult{
		Context:  ctx,
		Flags:    ctx.inboundFlags,
		Expiry:   time.Now().Add(ctxLifetime),
		Status:   secneg.StatusOK,
		PeerName: ctx.peerName,
	}, nil
}

// FinalizeToken is never demanded by this package; its statuses carry
// ready-to-send tokens.
func (provider) FinalizeToken(_ secneg.ContextHandle, _ []byte) ([]byte, error) {
	return nil, &secneg.ProviderError{Op: "finalize", Status: secneg.StatusUnsupported}
}

func newSecContext(initiator bool, localName string) (*secContext, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	ctx := &secContext{
		initiator: initiator,
		priv:      priv,
		pub:       priv.PublicKey().Bytes(),
		localName: localName,
	}
	if _, err := rand.Read(ctx.nonce[:]); err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	return ctx, nil
}

// deriveKeys splits the HKDF output into directional sealing and MAC
// keys and assigns them by role.
func (c *secContext) deriveKeys(psk, shared []byte, tr [32]byte) error {
	info := append([]byte(protoLabel+" keys"), tr[:]...)
	r := hkdf.New(sha256.New, shared, psk, info)

	keys := make([][]byte, 4) // i2a seal, a2i seal, i2a mac, a2i mac
	for i := range keys {
		keys[i] = make([]byte, chacha20poly1305.KeySize)
		if _, err := r.Read(keys[i]); err != nil {
			return &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
		}
	}

	i2a, err := chacha20poly1305.New(keys[0])
	if err != nil {
		return &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}
	a2i, err := chacha20poly1305.New(keys[1])
	if err != nil {
		return &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
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

func transcript(initPub, initNonce []byte, initName string, accPub, accNonce []byte, accName string, id uuid.UUID) [32]byte {
	h := sha256.New()
	h.Write([]byte(protoLabel))
	h.Write(initPub)
	h.Write(initNonce)
	writeLenPrefixed(h.Write, []byte(initName))
	h.Write(accPub)
	h.Write(accNonce)
	writeLenPrefixed(h.Write, []byte(accName))
	h.Write(id[:])

	var tr [32]byte
	h.Sum(tr[:0])
	return tr
}

func transcriptTag(psk []byte, tr [32]byte, role string) []byte {
	m := hmac.New(sha256.New, psk)
	m.Write(tr[:])
	m.Write([]byte(role))
	return m.Sum(nil)
}

func writeLenPrefixed(w func([]byte) (int, error), b []byte) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	w(l[:]) //nolint:errcheck
	w(b)    //nolint:errcheck
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
