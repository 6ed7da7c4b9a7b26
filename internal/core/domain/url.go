package domain

import (
	"net"
	"net/url"
	"strings"
)

// Supported proxy schemes and their default ports. The canonical form always
// carries an explicit port so "http://host" and "http://host:80" dedup to the
// same entry.
var schemeDefaultPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks4": "1080",
	"socks5": "1080",
}

// ParseProxyURL validates and normalises a proxy URL. Userinfo is split off
// into a Credential and stripped from the returned URL so credentials never
// travel with the address. The canonical string (scheme://host:port,
// lowercased) is the pool's dedup key.
func ParseProxyURL(raw string) (*url.URL, *Credential, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, "", NewValidationError("url", raw, "empty proxy URL")
	}
	// Bare host:port lists are common in proxy feeds; assume http.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, nil, "", NewValidationError("url", raw, "unparseable proxy URL")
	}

	scheme := strings.ToLower(parsed.Scheme)
	defaultPort, ok := schemeDefaultPorts[scheme]
	if !ok {
		return nil, nil, "", NewValidationError("scheme", parsed.Scheme, "unsupported proxy scheme")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, nil, "", NewValidationError("host", raw, "missing host")
	}
	port := parsed.Port()
	if port == "" {
		port = defaultPort
	}

	var cred *Credential
	if parsed.User != nil {
		pass, _ := parsed.User.Password()
		cred = NewCredential(parsed.User.Username(), pass)
	}

	clean := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
	}
	return clean, cred, clean.Scheme + "://" + clean.Host, nil
}

// CanonicalURL normalises a raw proxy URL to its dedup key.
func CanonicalURL(raw string) (string, error) {
	_, _, canonical, err := ParseProxyURL(raw)
	return canonical, err
}
