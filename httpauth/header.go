// SPDX-License-Identifier: Apache-2.0

package httpauth

import (
	"net/http"
	"strings"
)

func parseAuthzHeader(headers *http.Header) (string, string) {
	header := headers.Get("Authorization")
	if header == "" {
		return "", ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.ToLower(parts[0]), strings.TrimSpace(parts[1])
}

// authChallenge is a single challenge from a WWW-Authenticate header.
// Negotiate challenges carry at most a token68 value; any auth-params
// are kept raw so the caller can reject them.
type authChallenge struct {
	Scheme    string
	Token68   string
	RawParams string
}

// findSchemeChallenges parses the WWW-Authenticate headers of a
// response and returns the challenges for the given scheme.  Scheme
// names compare case-insensitively.
func findSchemeChallenges(headers *http.Header, scheme string) []authChallenge {
	var found []authChallenge
	for _, headerValue := range headers.Values("WWW-Authenticate") {
		for _, challengeStr := range splitChallenges(headerValue) {
			c := parseChallenge(challengeStr)
			if c != nil && strings.EqualFold(c.Scheme, scheme) {
				found = append(found, *c)
			}
		}
	}
	return found
}

func parseChallenge(challengeStr string) *authChallenge {
	scheme, rest, _ := strings.Cut(challengeStr, " ")
	if scheme == "" {
		return nil
	}

	c := &authChallenge{Scheme: scheme}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return c
	}

	// A token68 value has no '=' except optional trailing padding;
	// anything else is an auth-param list.
	trimmed := strings.TrimRight(rest, "=")
	if strings.Contains(trimmed, "=") {
		c.RawParams = rest
	} else {
		c.Token68 = rest
	}
	return c
}

// splitChallenges splits a WWW-Authenticate header value into
// challenge strings.  A header can hold several comma-separated
// challenges, and a challenge's own auth-params are also
// comma-separated, so a comma only separates challenges when the token
// that follows it looks like a scheme name rather than a parameter
// (RFC 7235 grammar).
func splitChallenges(headerValue string) []string {
	var challenges []string
	var current strings.Builder
	inQuotes := false
	escaped := false

	for i := 0; i < len(headerValue); i++ {
		ch := headerValue[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			if startsNewChallenge(headerValue[i+1:]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					challenges = append(challenges, s)
				}
				current.Reset()
				continue
			}
		}
		current.WriteByte(ch)
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		challenges = append(challenges, s)
	}

	return challenges
}

// startsNewChallenge reports whether the text after a top-level comma
// begins with a scheme token: a word with no '=' in it.
func startsNewChallenge(s string) bool {
	s = strings.TrimLeft(s, " ")
	token, _, _ := strings.Cut(s, " ")
	token, _, _ = strings.Cut(token, ",")
	return token != "" && !strings.Contains(token, "=")
}
