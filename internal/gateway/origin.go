package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originChecker enforces the configured Origin allowlist on WebSocket
// upgrades. A single "*" entry allows every origin; invalid entries are
// logged and skipped.
type originChecker struct {
	log      zerolog.Logger
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginChecker(origins []string, log zerolog.Logger) *originChecker {
	oc := &originChecker{
		log:     log,
		allowed: make(map[string]struct{}, len(origins)),
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			oc.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		oc.allowed[normalized] = struct{}{}
	}
	return oc
}

func (oc *originChecker) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		// Non-browser clients (backend services, CLIs) send no Origin.
		return true
	}
	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	if oc.allowAll {
		return true
	}
	if _, ok := oc.allowed[normalized]; ok {
		return true
	}
	oc.log.Warn().Str("origin", header).Msg("blocked connection from disallowed origin")
	return false
}

// normalizeOrigin lowercases the scheme://host form so comparisons ignore
// case and trailing paths.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
