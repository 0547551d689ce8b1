package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	CodeChallengeMethodS256 = "S256"
	redirectPortWildcard    = "*"
)

var (
	codeVerifierPattern  = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)
	codeChallengePattern = regexp.MustCompile(`^[A-Za-z0-9\-_]{43}$`)
)

// S256Challenge derives the PKCE S256 challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func VerifyPKCE(challenge string, verifier string) bool {
	if !codeVerifierPattern.MatchString(verifier) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(S256Challenge(verifier)), []byte(challenge)) == 1
}

func validateCodeChallenge(challenge string, method string) error {
	if strings.TrimSpace(method) != CodeChallengeMethodS256 {
		return fmt.Errorf("code_challenge_method must be S256")
	}
	if !codeChallengePattern.MatchString(challenge) {
		return fmt.Errorf("code_challenge is malformed")
	}
	return nil
}

type redirectPattern struct {
	scheme       string
	host         string
	port         string
	anyPort      bool
	path         string
	rawQuery     string
	exactPattern string
}

// parseRedirectPattern accepts absolute redirect URIs. A port of "*" matches
// any numeric port, as used by native clients on loopback addresses.
func parseRedirectPattern(raw string) (redirectPattern, error) {
	raw = strings.TrimSpace(raw)
	anyPort := false
	candidate := raw
	if idx := strings.Index(raw, ":"+redirectPortWildcard); idx > 0 {
		anyPort = true
		candidate = raw[:idx] + raw[idx+len(redirectPortWildcard)+1:]
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return redirectPattern{}, fmt.Errorf("core: invalid redirect uri %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return redirectPattern{}, fmt.Errorf("core: redirect uri %q must be absolute", raw)
	}
	if parsed.Fragment != "" {
		return redirectPattern{}, fmt.Errorf("core: redirect uri %q must not contain a fragment", raw)
	}
	if anyPort && parsed.Port() != "" {
		return redirectPattern{}, fmt.Errorf("core: redirect uri %q has an ambiguous port", raw)
	}
	return redirectPattern{
		scheme:       strings.ToLower(parsed.Scheme),
		host:         strings.ToLower(parsed.Hostname()),
		port:         parsed.Port(),
		anyPort:      anyPort,
		path:         parsed.EscapedPath(),
		rawQuery:     parsed.RawQuery,
		exactPattern: raw,
	}, nil
}

func (p redirectPattern) matches(candidate string) bool {
	if !p.anyPort {
		return candidate == p.exactPattern
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Fragment != "" {
		return false
	}
	port := parsed.Port()
	if port == "" {
		return false
	}
	if value, err := strconv.Atoi(port); err != nil || value <= 0 || value > 65535 {
		return false
	}
	return strings.ToLower(parsed.Scheme) == p.scheme &&
		strings.ToLower(parsed.Hostname()) == p.host &&
		parsed.EscapedPath() == p.path &&
		parsed.RawQuery == p.rawQuery
}

// MatchRedirectURI reports whether candidate is on the client's allow-list,
// either exactly or through a port wildcard entry.
func MatchRedirectURI(allowed []string, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	for _, entry := range allowed {
		pattern, err := parseRedirectPattern(entry)
		if err != nil {
			continue
		}
		if pattern.matches(candidate) {
			return true
		}
	}
	return false
}
