// SPDX-License-Identifier: Apache-2.0

package httpauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/golang-auth/go-secneg"
)

// SpnFunc derives the target service name for a request URL.
type SpnFunc func(u *url.URL) (string, error)

func defaultSpnFunc(u *url.URL) (string, error) {
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in URL %q", u)
	}
	return "HTTP@" + host, nil
}

// Transport is a [http.RoundTripper] that establishes a security
// context with the server using the Negotiate scheme, running a fresh
// initiator engine for every request.
type Transport struct {
	pkg           string
	engineOpts    []secneg.Option
	spnFunc       SpnFunc
	opportunistic bool
	transport     http.RoundTripper
}

// TransportOption configures a Transport.
type TransportOption func(t *Transport)

// WithEngineOptions passes options through to the initiator engine
// created for each request.  A target set here overrides the service
// name derived from the request URL.
func WithEngineOptions(opts ...secneg.Option) TransportOption {
	return func(t *Transport) {
		t.engineOpts = append(t.engineOpts, opts...)
	}
}

// WithSpnFunc replaces the default service-name derivation
// ("HTTP@" + request host).
func WithSpnFunc(fn SpnFunc) TransportOption {
	return func(t *Transport) {
		t.spnFunc = fn
	}
}

// WithOpportunistic sends the first handshake token with the initial
// request instead of waiting for a 401 challenge (RFC 4559 § 4.2).
func WithOpportunistic() TransportOption {
	return func(t *Transport) {
		t.opportunistic = true
	}
}

// WithRoundTripper sets the underlying transport used for the actual
// HTTP exchanges.  The default is [http.DefaultTransport].
func WithRoundTripper(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.transport = rt
	}
}

// NewTransport creates a Transport authenticating with the named
// security package.
func NewTransport(pkg string, options ...TransportOption) *Transport {
	t := &Transport{
		pkg:       pkg,
		spnFunc:   defaultSpnFunc,
		transport: http.DefaultTransport,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// NewClient returns a [http.Client] whose transport authenticates with
// the named security package.
func NewClient(pkg string, options ...TransportOption) *http.Client {
	return &http.Client{Transport: NewTransport(pkg, options...)}
}

// RoundTrip implements the [http.RoundTripper] interface and performs
// one HTTP request, including any extra round trips needed to complete
// the handshake with the server.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	spn, err := t.spnFunc(req.URL)
	if err != nil {
		return nil, err
	}

	opts := append([]secneg.Option{secneg.WithTarget(spn)}, t.engineOpts...)
	engine, err := secneg.NewClient(t.pkg, opts...)
	if err != nil {
		return nil, err
	}
	defer engine.Close() //nolint:errcheck

	// We are not meant to modify the request, so we need to clone it.
	req = req.Clone(req.Context())

	started := false
	if t.opportunistic {
		_, outToken, err := engine.Authorize(nil)
		if err != nil {
			return nil, err
		}
		setNegotiateAuthz(req, outToken)
		started = true
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := rewindBody(req); err != nil {
				return nil, err
			}
		}

		resp, err = t.transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}

		// A challenge can arrive in a 401 or in any final response
		// (the server's mutual token rides on the success response).
		challenges := findSchemeChallenges(&resp.Header, "Negotiate")
		switch len(challenges) {
		default:
			drainBody(resp)
			return nil, errors.New("multiple negotiate challenges found in response")
		case 0:
			if started && !engine.Established() {
				drainBody(resp)
				return nil, errors.New("server stopped negotiating before the context was established")
			}
			return resp, nil
		case 1:
		}

		challenge := challenges[0]
		if challenge.RawParams != "" {
			drainBody(resp)
			return nil, errors.New("negotiate challenge must not have parameters")
		}

		if engine.Established() {
			if resp.StatusCode != http.StatusUnauthorized {
				return resp, nil
			}
			drainBody(resp)
			return nil, errors.New("server rejected an established context")
		}

		var inToken []byte
		if challenge.Token68 != "" {
			inToken, err = base64.StdEncoding.DecodeString(challenge.Token68)
			if err != nil {
				drainBody(resp)
				return nil, fmt.Errorf("negotiate challenge: %w", err)
			}
		} else if started {
			drainBody(resp)
			return nil, errors.New("empty challenge received during context establishment")
		}

		outcome, outToken, err := engine.Authorize(inToken)
		if err != nil {
			drainBody(resp)
			return nil, err
		}
		started = true

		if outcome.Established() && resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if len(outToken) > 0 {
			setNegotiateAuthz(req, outToken)
		} else if resp.StatusCode == http.StatusUnauthorized {
			drainBody(resp)
			return nil, errors.New("no token to answer the server challenge")
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		drainBody(resp)
	}
}

func setNegotiateAuthz(req *http.Request, token []byte) {
	req.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(token))
}

// rewindBody resets the request body before a retry.  Bodies without
// GetBody cannot be replayed.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("request body cannot be replayed for the authentication retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// drainBody consumes and closes a response body so the underlying
// connection can be reused for the retry.
func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close() //nolint:errcheck
}
