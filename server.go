// SPDX-License-Identifier: Apache-2.0

package secneg

import (
	"github.com/golang-auth/go-secneg/observ"
)

// Server is the acceptor-side handshake engine.  It mirrors Client but
// acquires inbound credentials; the Authorize contract is symmetric.
// Most providers have nothing useful to do with a nil first token on
// the acceptor side -- the server normally waits for the initiator's
// token -- but the step contract is the same.
type Server struct {
	baseAuth
}

// NewServer resolves the named security package, acquires inbound
// credentials and queries the package capabilities.  Errors are as for
// NewClient.
func NewServer(pkg string, opts ...Option) (*Server, error) {
	s := &Server{}
	if err := initBase(&s.baseAuth, pkg, CredUsageInbound, observ.RoleServer, opts); err != nil {
		return nil, err
	}

	return s, nil
}

// Authorize feeds the peer's token to the provider and returns the
// status classification and the next token to send back.
func (s *Server) Authorize(inToken []byte) (Outcome, []byte, error) {
	return s.authorize(inToken)
}
