package config

import (
	"net/url"
	"strings"
)

// WildcardOrigin in the allow-list admits every origin.
const WildcardOrigin = "*"

// NormalizeOrigins trims, lower-cases and deduplicates an origin allow-list.
// The wildcard is kept as is. Entries that are not scheme://host URLs are
// dropped and returned separately.
func NormalizeOrigins(origins []string) (normalized, ignored []string) {
	seen := make(map[string]struct{}, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		value := trimmed
		if trimmed != WildcardOrigin {
			n, ok := NormalizeOrigin(trimmed)
			if !ok {
				ignored = append(ignored, origin)
				continue
			}
			value = n
		}

		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}

	return normalized, ignored
}

// NormalizeOrigin reduces an origin to lower-case scheme://host.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
