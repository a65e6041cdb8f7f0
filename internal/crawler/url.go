package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseSeedAddress checks that a start URL is an absolute URL and returns it
// trimmed but otherwise unchanged. Any scheme is accepted, so file: and mailto:
// seeds pass; scheme-less or unparseable input is rejected.
func ParseSeedAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse seed address: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("parse seed address %q: scheme is required", raw)
	}
	return addr, nil
}
