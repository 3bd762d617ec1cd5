package rule

import (
	"strings"

	"golang.org/x/net/idna"
)

var idnaProfile = idna.New(idna.MapForLookup(), idna.Transitional(true))

// ConvertHostToASCII punycode-encodes a single hostname, label by label.
// Non-IDN hosts and already-ASCII hosts pass through unchanged (idempotent).
func ConvertHostToASCII(host string) string {
	if host == "" || isASCII(host) {
		return host
	}
	out, err := idnaProfile.ToASCII(host)
	if err != nil {
		return host
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// ConvertPatternToASCII rewrites the hostname component of an adblock
// pattern to punycode, handling the `||host^` and `*.host` forms named in
// §4.3 pass 1. Patterns with no recognizable hostname component pass
// through unchanged.
func ConvertPatternToASCII(pattern string) string {
	if strings.HasPrefix(pattern, "||") {
		rest := pattern[2:]
		if strings.HasPrefix(rest, "*.") {
			host, tail := splitHost(rest[2:])
			return "||*." + ConvertHostToASCII(host) + tail
		}
		host, tail := splitHost(rest)
		return "||" + ConvertHostToASCII(host) + tail
	}
	if strings.HasPrefix(pattern, "*.") {
		host, tail := splitHost(pattern[2:])
		return "*." + ConvertHostToASCII(host) + tail
	}
	return pattern
}

// splitHost separates the leading hostname-looking run of a pattern from
// the first delimiter (`/`, `^`, `*`, `$`) onward.
func splitHost(s string) (host, tail string) {
	idx := strings.IndexAny(s, "/^*$")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx:]
}
