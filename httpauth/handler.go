// SPDX-License-Identifier: Apache-2.0

package httpauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/golang-auth/go-secneg"
)

type contextKey int

const ctxPeerName contextKey = iota

func setPeerName(r *http.Request, name string) *http.Request {
	newCtx := context.WithValue(r.Context(), ctxPeerName, name)
	return r.WithContext(newCtx)
}

// GetPeerName returns the authenticated peer name from the request
// context.  It is available to the next handler called by
// [Handler.ServeHTTP].
func GetPeerName(r *http.Request) (string, bool) {
	name, ok := r.Context().Value(ctxPeerName).(string)
	return name, ok
}

// ServerFactory returns a fresh acceptor engine.  The handler consumes
// one engine per authenticated request.
type ServerFactory func() (*secneg.Server, error)

// Handler is a http.Handler that authenticates the request and passes
// the peer name to the next handler.
type Handler struct {
	newServer ServerFactory
	next      http.Handler
}

// NewHandler creates a new Handler in front of next.
func NewHandler(newServer ServerFactory, next http.Handler) *Handler {
	return &Handler{
		newServer: newServer,
		next:      next,
	}
}

// ServeHTTP authenticates the request and calls the next handler.  It
// doesn't seem possible to support more than one token round trip per
// request with the Go [http.Server] implementation without hijacking
// the connection, so the acceptor must establish from the first token.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scheme, token := parseAuthzHeader(&r.Header)
	if scheme != "negotiate" || token == "" {
		w.Header().Set("WWW-Authenticate", "Negotiate")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	outToken, peer, err := h.negotiateOnce(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Negotiate")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if outToken != "" {
		w.Header().Set("WWW-Authenticate", "Negotiate "+outToken)
	}

	h.next.ServeHTTP(w, setPeerName(r, peer))
}

// negotiateOnce runs a single acceptor round and returns the encoded
// reply token and the peer name.
func (h *Handler) negotiateOnce(negotiateToken string) (string, string, error) {
	rawToken, err := base64.StdEncoding.DecodeString(negotiateToken)
	if err != nil {
		return "", "", err
	}

	srv, err := h.newServer()
	if err != nil {
		return "", "", err
	}
	defer srv.Close() //nolint:errcheck

	outcome, outToken, err := srv.Authorize(rawToken)
	if err != nil {
		return "", "", err
	}
	if !outcome.Established() {
		return "", "", fmt.Errorf("security package needs more than one round trip (%s)", outcome)
	}

	out := ""
	if len(outToken) > 0 {
		out = base64.StdEncoding.EncodeToString(outToken)
	}

	return out, srv.PeerName(), nil
}
