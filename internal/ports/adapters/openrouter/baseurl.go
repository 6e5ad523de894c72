package openrouter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://openrouter.ai"

// ErrInvalidBaseURL is wrapped by every ValidateBaseURL failure.
var ErrInvalidBaseURL = errors.New("invalid OPENROUTER_BASE_URL")

var defaultAllowedHosts = hostSet{"openrouter.ai": {}, "api.openrouter.ai": {}}

type hostSet map[string]struct{}

func (h hostSet) has(host string) bool {
	_, ok := h[host]
	return ok
}

func normalizeBaseURL(raw string) string {
	if raw = strings.TrimSpace(raw); raw == "" {
		raw = defaultBaseURL
	}
	return strings.TrimRight(raw, "/")
}

// apiBaseURL maps the configured host root to the OpenAI-compatible API root.
// A base URL that already ends in /api/v1 is used as is.
func apiBaseURL(raw string) string {
	return strings.TrimSuffix(normalizeBaseURL(raw), "/api/v1") + "/api/v1/"
}

// ValidateBaseURL accepts only absolute https URLs on an allowed host, with
// no credentials, query or fragment. An empty allowlist means the public
// OpenRouter hosts.
func ValidateBaseURL(raw string, allowedHosts []string) error {
	raw = normalizeBaseURL(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	host := strings.ToLower(u.Hostname())

	checks := []struct {
		bad bool
		msg string
	}{
		{!u.IsAbs() || host == "", "absolute URL with host is required"},
		{u.User != nil, "userinfo is not allowed"},
		{u.RawQuery != "" || u.Fragment != "", "query and fragment are not allowed"},
		{!strings.EqualFold(u.Scheme, "https"), "https is required"},
	}
	for _, c := range checks {
		if c.bad {
			return fmt.Errorf("%w %q: %s", ErrInvalidBaseURL, raw, c.msg)
		}
	}
	if !normalizeAllowedHosts(allowedHosts).has(host) {
		return fmt.Errorf("%w %q: host %q is not in OPENROUTER_ALLOWED_HOSTS", ErrInvalidBaseURL, raw, host)
	}
	return nil
}

// normalizeAllowedHosts reduces entries like "https://Proxy.internal:8443/"
// to bare lowercase host names.
func normalizeAllowedHosts(entries []string) hostSet {
	out := hostSet{}
	for _, e := range entries {
		h := strings.ToLower(strings.TrimSpace(e))
		for _, p := range []string{"http://", "https://"} {
			h = strings.TrimPrefix(h, p)
		}
		h = strings.Trim(h, "/")
		if i := strings.IndexByte(h, ':'); i >= 0 {
			h = h[:i]
		}
		if h != "" {
			out[h] = struct{}{}
		}
	}
	if len(out) == 0 {
		return defaultAllowedHosts
	}
	return out
}
