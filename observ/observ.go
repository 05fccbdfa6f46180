// SPDX-License-Identifier: Apache-2.0

// Package observ defines the observer hooks the negotiation engines
// report into.  The package is metrics-system neutral; see the prom
// subpackage for a Prometheus implementation.
package observ

// Role identifies the engine side reporting an event.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Observer receives engine events.  Implementations must be safe for
// use from multiple engines.
type Observer interface {
	// HandshakeRound is called once per Authorize call that reached the
	// provider.
	HandshakeRound(role Role)

	// HandshakeDone is called when a handshake terminates, with the
	// number of rounds it took and whether it established the context.
	HandshakeDone(role Role, rounds int, established bool)

	// ProtectOp is called once per message-protection operation
	// (encrypt, decrypt, sign, verify) with its outcome.
	ProtectOp(op string, ok bool)
}

// Nop is an Observer that discards all events.
type Nop struct{}

func (Nop) HandshakeRound(Role)           {}
func (Nop) HandshakeDone(Role, int, bool) {}
func (Nop) ProtectOp(string, bool)        {}
