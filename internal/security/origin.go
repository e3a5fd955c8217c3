package security

import (
	"net/url"
	"strings"
)

// OriginValidator validates WebSocket connection origins
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// OriginAllowList accepts origins whose scheme://host[:port] appears in the
// list. "*" accepts everything; an empty origin (non-browser client) is accepted.
type OriginAllowList struct {
	allowAll bool
	origins  map[string]bool
}

// NewOriginAllowList builds an allow-list from configured origins.
func NewOriginAllowList(origins []string) *OriginAllowList {
	l := &OriginAllowList{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			l.allowAll = true
			continue
		}
		if norm, ok := normalizeOrigin(o); ok {
			l.origins[norm] = true
		}
	}
	return l
}

// IsAllowedOrigin implements OriginValidator.
func (l *OriginAllowList) IsAllowedOrigin(origin string) bool {
	if origin == "" || l.allowAll {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	return l.origins[norm]
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}
