package utils

import "net/url"

// BoundResourceURL clamps a server-declared resource URL to the API's own
// origin. The resource URL is attacker-influenced: it arrives in a 402
// challenge and gets echoed into a signed payload, so a URL whose scheme or
// host differs from apiBase is replaced with apiBase itself. The bool is
// true when clamping happened (or serverURL was unparseable); callers log
// it as a warning, the request itself proceeds.
func BoundResourceURL(serverURL, apiBase string) (string, bool) {
	base, err := url.Parse(apiBase)
	if err != nil {
		return apiBase, true
	}
	parsed, err := url.Parse(serverURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return apiBase, true
	}
	if parsed.Scheme != base.Scheme || parsed.Hostname() != base.Hostname() {
		return apiBase, true
	}
	return serverURL, false
}
