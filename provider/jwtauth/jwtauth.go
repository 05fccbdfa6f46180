// SPDX-License-Identifier: Apache-2.0

// Package jwtauth provides a secneg security provider whose handshake
// tokens are HS256-signed JWTs over a shared key, registered under the
// package name "jwt-psk".
//
// The exchange is short: the initiator sends a signed assertion naming
// itself and the target and carrying a fresh nonce; the acceptor
// validates it and answers with its own assertion, which binds the
// initiator's token ID.  The acceptor's negotiation step reports
// StatusCompleteNeeded and hands back an unsigned draft -- the
// finalization step stamps the signature on it.  Session keys for
// message protection are derived from the shared key and both nonces
// with HKDF-SHA256; protection is AES-256-GCM and detached signatures
// are HMAC-SHA256.
package jwtauth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/golang-auth/go-secneg"
)

// PackageName is the name this provider registers under.
const PackageName = "jwt-psk"

const (
	minKeySize = 32

	credLifetime  = 8 * time.Hour
	ctxLifetime   = time.Hour
	tokenLifetime = 2 * time.Minute
	leeway        = 30 * time.Second

	maxTokenSize     = 4096
	maxMessageSize   = 64 * 1024
	maxSignatureSize = 32
)

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
	key    []byte
	expiry time.Time
}

func (c *credential) Usage() secneg.CredUsage { return c.usage }
func (c *credential) Expiry() time.Time       { return c.expiry }

func (c *credential) Release() error {
	for i := range c.key {
		c.key[i] = 0
	}
	c.key = nil
	return nil
}

func (provider) AcquireCredential(pkg string, usage secneg.CredUsage, principal string, identity *secneg.AuthIdentity) (secneg.Credential, error) {
	if pkg != PackageName {
		return nil, &secneg.CredentialError{Package: pkg, Status: secneg.StatusPackageUnknown}
	}
	if identity == nil || len(identity.Secret) < minKeySize {
		return nil, &secneg.CredentialError{Package: pkg, Status: secneg.StatusNoCredentials}
	}

	name := principal
	if name == "" {
		name = identity.Principal
	}

	return &credential{
		usage:  usage,
		name:   name,
		key:    append([]byte(nil), identity.Secret...),
		expiry: time.Now().Add(credLifetime),
	}, nil
}

// handshakeClaims is the claims set carried by both assertion tokens.
type handshakeClaims struct {
	Nonce string `json:"nonce"`
	Cnf   string `json:"cnf,omitempty"` // token ID of the assertion being answered
	jwt.RegisteredClaims
}

type secContext struct {
	initiator   bool
	established bool

	key       []byte // shared signing key, needed by FinalizeToken
	localName string
	peerName  string
	jti       string // our assertion's token ID
	nonce     string // our nonce, base64

	draft *handshakeClaims // acceptor reply awaiting finalization

	sealSend cipher.AEAD
	sealRecv cipher.AEAD
	macSend  []byte
	macRecv  []byte
}

func (c *secContext) Release() error {
	for i := range c.macSend {
		c.macSend[i] = 0
	}
	for i := range c.macRecv {
		c.macRecv[i] = 0
	}
	c.sealSend = nil
	c.sealRecv = nil
	c.established = false
	return nil
}

func (p *provider) NegotiateStep(in secneg.StepInput) (*secneg.StepResult, error) {
	cred, ok := in.Credential.(*credential)
	if !ok || cred.key == nil {
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
		if ctx == nil {
			return p.initiatorHello(cred, in)
		}
		return p.initiatorFinish(cred, ctx, in)
	}
	return p.acceptorStep(cred, ctx, in)
}

func (p *provider) initiatorHello(cred *credential, in secneg.StepInput) (*secneg.StepResult, error) {
	if in.InputToken != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	ctx := &secContext{
		initiator: true,
		key:       append([]byte(nil), cred.key...),
		localName: cred.name,
		jti:       uuid.NewString(),
		nonce:     nonce,
	}

	now := time.Now()
	claims := &handshakeClaims{
		Nonce: ctx.nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cred.name,
			Audience:  jwt.ClaimStrings{in.Target},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			ID:        ctx.jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cred.key)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	return &secneg.StepResult{
		Context:     ctx,
		Flags:       in.Flags & supportedFlags,
		Expiry:      time.Now().Add(ctxLifetime),
		Status:      secneg.StatusContinueNeeded,
		OutputToken: []byte(signed),
	}, nil
}

func (p *provider) initiatorFinish(cred *credential, ctx *secContext, in secneg.StepInput) (*secneg.StepResult, error) {
	claims, err := parseAssertion(cred.key, in.InputToken, ctx.localName)
	if err != nil {
		return nil, err
	}
	if claims.Cnf != ctx.jti {
		// Reply does not answer our assertion.
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusLogonDenied}
	}

	if err := ctx.deriveKeys(ctx.nonce, ctx.jti, claims.Nonce, claims.ID); err != nil {
		return nil, err
	}
	ctx.peerName = claims.Issuer
	ctx.established = true

	return &secneg.StepResult{
		Context:  ctx,
		Flags:    in.Flags & supportedFlags,
		Expiry:   time.Now().Add(ctxLifetime),
		Status:   secneg.StatusOK,
		PeerName: claims.Issuer,
	}, nil
}

func (p *provider) acceptorStep(cred *credential, ctx *secContext, in secneg.StepInput) (*secneg.StepResult, error) {
	if ctx != nil {
		// Single inbound round only; anything further is a protocol error.
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}

	claims, err := parseAssertion(cred.key, in.InputToken, cred.name)
	if err != nil {
		return nil, err
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	ctx = &secContext{
		key:       append([]byte(nil), cred.key...),
		localName: cred.name,
		peerName:  claims.Issuer,
		jti:       uuid.NewString(),
		nonce:     nonce,
	}

	if err := ctx.deriveKeys(claims.Nonce, claims.ID, ctx.nonce, ctx.jti); err != nil {
		return nil, err
	}

	now := time.Now()
	ctx.draft = &handshakeClaims{
		Nonce: ctx.nonce,
		Cnf:   claims.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cred.name,
			Audience:  jwt.ClaimStrings{claims.Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			ID:        ctx.jti,
		},
	}

	draft, err := json.Marshal(ctx.draft)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	return &secneg.StepResult{
		Context:     ctx,
		Flags:       in.Flags & supportedFlags,
		Expiry:      time.Now().Add(ctxLifetime),
		Status:      secneg.StatusCompleteNeeded,
		PeerName:    claims.Issuer,
		OutputToken: draft,
	}, nil
}

// FinalizeToken signs the acceptor's draft reply.  The context becomes
// usable for message protection only after this step.
func (p *provider) FinalizeToken(h secneg.ContextHandle, token []byte) ([]byte, error) {
	ctx, ok := h.(*secContext)
	if !ok {
		return nil, &secneg.ProviderError{Op: "finalize", Status: secneg.StatusInvalidHandle}
	}
	if ctx.draft == nil {
		return nil, &secneg.ProviderError{Op: "finalize", Status: secneg.StatusInvalidToken}
	}

	var claims handshakeClaims
	if err := json.Unmarshal(token, &claims); err != nil || claims.ID != ctx.draft.ID {
		return nil, &secneg.ProviderError{Op: "finalize", Status: secneg.StatusInvalidToken}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, ctx.draft).SignedString(ctx.key)
	if err != nil {
		return nil, &secneg.ProviderError{Op: "finalize", Status: secneg.StatusInternalError}
	}

	ctx.draft = nil
	ctx.established = true

	return []byte(signed), nil
}

// parseAssertion validates a signed handshake assertion addressed to
// audience and returns its claims.
func parseAssertion(key, token []byte, audience string) (*handshakeClaims, error) {
	claims := &handshakeClaims{}
	_, err := jwt.ParseWithClaims(string(token), claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenExpired):
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusLogonDenied}
	default:
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}

	if claims.Nonce == "" || claims.ID == "" {
		return nil, &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInvalidToken}
	}

	return claims, nil
}

func newNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", &secneg.ProviderError{Op: "negotiate", Status: secneg.StatusInternalError}
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
