// SPDX-License-Identifier: Apache-2.0

/*
Package httpauth carries the security-context handshake over HTTP using
the Negotiate authentication scheme (RFC 4559 framing with
package-defined tokens).

# Clients and transports

Create a client to use a Negotiate enabled transport.  The client can
be used anywhere a standard [http.Client] can be used.

	client, err := httpauth.NewClient("jwt-psk",
		httpauth.WithEngineOptions(secneg.WithIdentity(id)),
	)
	...
	resp, err := client.Get("http://example.com")

To control transport parameters, create the transport directly:

	transport := httpauth.NewTransport("jwt-psk",
		httpauth.WithOpportunistic(),
		httpauth.WithEngineOptions(secneg.WithIdentity(id)),
	)
	client := &http.Client{Transport: transport}

The transport wraps a standard [http.RoundTripper], by default
[http.DefaultTransport]; supply another one with [WithRoundTripper].

# Servers

[Handler] is a [http.Handler] that authenticates the request and calls
the next handler with the peer name in the request context:

	newServer := func() (*secneg.Server, error) {
		return secneg.NewServer("jwt-psk", secneg.WithIdentity(id))
	}
	http.Handle("/", httpauth.NewHandler(newServer, mux))

The Go [http.Server] model allows a single token round trip per
request, so only security packages whose acceptor side completes in one
inbound round can be used here.
*/
package httpauth
