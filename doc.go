// SPDX-License-Identifier: Apache-2.0

// Package secneg implements a provider-agnostic security-context
// negotiation layer.  A [Client] and a [Server] drive a multi-round
// token exchange against an opaque security provider until a mutually
// authenticated context is established, after which the per-message
// operations Encrypt, Decrypt, Sign and VerifySignature protect
// application data over that context.
//
// The actual negotiation algorithm and cryptography live behind the
// [Provider] interface.  Providers register themselves by package name
// (see [RegisterProvider]); the engines look one up, acquire a
// role-specific credential, and repeatedly call the provider's
// NegotiateStep until the returned status classifies as complete.
// Token bytes are opaque to this layer -- transporting them between the
// peers is the caller's responsibility.
//
// A typical initiator loop:
//
//	cli, err := secneg.NewClient("x25519-psk",
//		secneg.WithPrincipal("alice"),
//		secneg.WithIdentity(&secneg.AuthIdentity{Secret: psk}),
//		secneg.WithTarget("service@host"))
//	...
//	outcome, token, err := cli.Authorize(nil)
//	for err == nil && outcome.ContinueNeeded() {
//		peerToken := transport(token)
//		outcome, token, err = cli.Authorize(peerToken)
//	}
package secneg
