// Package urlguard decides whether a webhook URL is safe to deliver to.
//
// Validation works on the literal host text of the URL and never resolves
// DNS. A public hostname whose record points at a private address (DNS
// rebinding) passes this check; guarding against that requires checking the
// resolved address at connect time.
package urlguard

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// RejectedError is returned for any URL that must not receive deliveries.
type RejectedError struct {
	URL    string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("webhook url rejected: %s", e.Reason)
}

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"127.0.0.1":                {},
	"0.0.0.0":                  {},
	"::1":                      {},
	"::":                       {},
	"::0":                      {},
	"0:0:0:0:0:0:0:1":          {},
	"0:0:0:0:0:0:0:0":          {},
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
	"metadata.azure.com":       {},
	"instance-data":            {},
}

var blockedSuffixes = []string{".local", ".internal", ".localhost"}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
}

// Validate returns nil when raw is safe for outbound delivery and a
// *RejectedError otherwise. It is pure and deterministic.
func Validate(raw string) error {
	reject := func(format string, args ...any) error {
		return &RejectedError{URL: raw, Reason: fmt.Sprintf(format, args...)}
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return reject("invalid url")
	}
	if !u.IsAbs() || u.Host == "" {
		return reject("url must be absolute")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return reject("scheme %q is not allowed", u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return reject("missing host")
	}
	if _, ok := blockedHosts[host]; ok {
		return reject("host %q is not allowed", host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return reject("host %q is not allowed", host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason := blockedAddr(addr); reason != "" {
			return reject("address %s is %s", host, reason)
		}
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return reject("invalid port %q", p)
		}
		if port < 1024 && port != 80 && port != 443 {
			return reject("port %d is not allowed", port)
		}
	}

	return nil
}

// IsSafe is a convenience wrapper around Validate.
func IsSafe(raw string) bool {
	return Validate(raw) == nil
}

func blockedAddr(addr netip.Addr) string {
	addr = addr.WithZone("")
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	if addr.Is4() {
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return "in private range " + p.String()
			}
		}
		return ""
	}

	switch {
	case addr.IsLoopback():
		return "loopback"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsLinkLocalUnicast():
		return "link-local"
	case addr.IsPrivate():
		return "unique-local"
	}
	return ""
}
