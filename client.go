// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"github.com/golang-auth/go-secneg/observ"
)

// Options holds the optional construction parameters shared by both
// engine roles.
type Options struct {
	Principal string
	Identity  *AuthIdentity
	Target    string
	Flags     ContextFlag
	flagsSet  bool
	DataRep   DataRep
	Observer  observ.Observer
}

// Option configures NewClient and NewServer.
type Option func(o *Options)

// WithPrincipal names the local principal the credential is acquired
// for.
func WithPrincipal(principal string) Option {
	return func(o *Options) {
		o.Principal = principal
	}
}

// WithIdentity supplies pre-acquired authentication material to
// credential acquisition.  Its interpretation is package specific.
func WithIdentity(identity *AuthIdentity) Option {
	return func(o *Options) {
		o.Identity = identity
	}
}

// WithTarget names the target identity the initiator authenticates to.
// It is ignored by the server role.
func WithTarget(target string) Option {
	return func(o *Options) {
		o.Target = target
	}
}

// WithFlags replaces the default requested protection flags
// ([DefaultFlags]).
func WithFlags(flags ContextFlag) Option {
	return func(o *Options) {
		o.Flags = flags
		o.flagsSet = true
	}
}

// WithDataRep selects the data representation for protected messages.
func WithDataRep(rep DataRep) Option {
	return func(o *Options) {
		o.DataRep = rep
	}
}

// WithObserver attaches observer hooks to the engine.
func WithObserver(obs observ.Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// Client is the initiator-side handshake engine.  It owns an outbound
// credential and drives the token exchange through Authorize; once the
// outcome reports establishment the embedded message-protection
// operations become usable.
type Client struct {
	baseAuth
}

// NewClient resolves the named security package, acquires outbound
// credentials and queries the package capabilities.  The returned error
// unwraps to ErrProviderUnavailable when the package cannot be
// resolved, and is a *CredentialError when acquisition is rejected.
func NewClient(pkg string, opts ...Option) (*Client, error) {
	c := &Client{}
	if err := initBase(&c.baseAuth, pkg, CredUsageOutbound, observ.RoleClient, opts); err != nil {
		return nil, err
	}

	return c, nil
}

// Authorize runs a single round of the handshake.  Pass nil on the
// first round; thereafter feed the peer's reply token.  The returned
// token, when non-empty, must be transported to the peer.  The caller
// loops while the outcome reports ContinueNeeded.
func (c *Client) Authorize(inToken []byte) (Outcome, []byte, error) {
	return c.authorize(inToken)
}

// initBase fills the embedded baseAuth in place; the engine value is
// never copied once it carries the mutex.
func initBase(b *baseAuth, pkg string, usage CredUsage, role observ.Role, opts []Option) error {
	o := Options{Observer: observ.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.flagsSet {
		o.Flags = DefaultFlags
	}

	provider, err := NewProvider(pkg)
	if err != nil {
		return err
	}

	info, err := provider.QueryPackageInfo(pkg)
	if err != nil {
		return err
	}

	cred, err := provider.AcquireCredential(pkg, usage, o.Principal, o.Identity)
	if err != nil {
		return err
	}

	b.provider = provider
	b.pkg = info
	b.cred = cred
	b.role = role
	b.obs = o.Observer
	b.reqFlags = o.Flags
	b.target = o.Target
	b.dataRep = o.DataRep

	return nil
}
