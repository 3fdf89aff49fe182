// Package canon normalizes a URL or bare host into a stable domain key.
package canon

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/north-cloud/crawlcoord/internal/domain"
)

// defaultPorts are stripped from the identity; any other port is preserved,
// per the resolved reading of the canonicalizer's original ambiguity (see
// the grounding ledger): example.com:8080 and example.com are distinct domains.
var defaultPorts = map[string]bool{"80": true, "443": true}

var punycode = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// Options controls optional reductions applied on top of the mandatory rules.
type Options struct {
	// StripSubdomains reduces the result to the registrable domain (public
	// suffix + 1) when true. Left false by default: the scheduling core
	// keeps full subdomains as distinct crawl targets.
	StripSubdomains bool
}

// Domain canonicalizes a URL or bare host into a single canonical host
// string. Rules, applied in order: add a scheme if missing (solely so URL
// parsing works), lowercase, strip default ports, strip a trailing dot,
// strip a leading "www.", and encode internationalized labels to their
// ASCII-compatible punycode form. Idempotent and deterministic; performs no I/O.
func Domain(input string, opts Options) (string, error) {
	if input == "" {
		return "", domain.Wrapf(domain.ErrInvalidInput, "empty domain input")
	}

	raw := input
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", domain.Wrapf(domain.ErrInvalidInput, "cannot parse %q: %v", input, err)
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", domain.Wrapf(domain.ErrInvalidInput, "no host in %q", input)
	}

	host = stripDefaultPort(host)
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")

	if encoded, encErr := punycode.ToASCII(host); encErr == nil {
		host = encoded
	}

	if opts.StripSubdomains {
		if reduced := registrableDomain(host); reduced != "" {
			host = reduced
		}
	}

	return host, nil
}

// stripDefaultPort removes a trailing ":80" or ":443", leaving any other
// port (including on bracketed IPv6 literals, which are left untouched).
func stripDefaultPort(host string) string {
	if strings.HasPrefix(host, "[") {
		return host
	}
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host
	}
	if port := host[idx+1:]; defaultPorts[port] {
		return host[:idx]
	}
	return host
}

// registrableDomain reduces a host to its public-suffix+1 label, e.g.
// "blog.example.co.uk" -> "example.co.uk". Returns "" (signaling "keep the
// original") when the reduction fails, mirroring the original's silent
// fallback to the full domain on suffix-lookup failure.
func registrableDomain(host string) string {
	reduced, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return reduced
}

// Idempotent reports whether canonicalizing s twice yields the same result
// as canonicalizing it once (property P5 / boundary B5).
func Idempotent(s string, opts Options) (bool, error) {
	once, err := Domain(s, opts)
	if err != nil {
		return false, err
	}
	twice, err := Domain(once, opts)
	if err != nil {
		return false, err
	}
	return once == twice, nil
}
