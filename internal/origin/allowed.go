// Package origin enforces the exact-match origin allow-list and answers CORS preflights.
package origin

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// AllowedSet is the immutable set of origins permitted to call the API.
// Membership is exact string equality: no wildcard, subdomain or port matching.
type AllowedSet struct {
	origins map[string]struct{}
	list    []string
}

// ParseAllowed builds the set from a comma-separated list. Malformed entries are logged and
// skipped. An empty result is logged; such a set rejects every request carrying an Origin.
func ParseAllowed(raw string, log zerolog.Logger) *AllowedSet {
	s := &AllowedSet{origins: make(map[string]struct{})}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if err := validate(entry); err != nil {
			log.Warn().Err(err).Str("origin", entry).Msg("origin.invalid_entry_skipped")
			continue
		}
		if _, dup := s.origins[entry]; dup {
			continue
		}
		s.origins[entry] = struct{}{}
		s.list = append(s.list, entry)
	}
	sort.Strings(s.list)

	if len(s.list) == 0 {
		log.Warn().Str("effect", "requests carrying an Origin header are rejected").Msg("origin.allow_list_empty")
	}
	log.Info().Strs("allowed_origins", s.list).Int("count", len(s.list)).Msg("origin.allow_list_loaded")
	return s
}

// validate accepts only "scheme://host[:port]" in canonical form.
func validate(entry string) error {
	u, err := url.Parse(entry)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}
	if u.User != nil || u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.Opaque != "" || u.ForceQuery {
		return fmt.Errorf("origin must not carry userinfo, path, query or fragment")
	}
	if canonical := u.Scheme + "://" + strings.ToLower(u.Host); canonical != entry {
		return fmt.Errorf("not in canonical form %q", canonical)
	}
	return nil
}

// Contains reports whether origin is allowed.
func (s *AllowedSet) Contains(origin string) bool {
	if s == nil {
		return false
	}
	_, ok := s.origins[origin]
	return ok
}

// Len returns the number of allowed origins.
func (s *AllowedSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.list)
}

// Snapshot returns a sorted copy of the allowed origins.
func (s *AllowedSet) Snapshot() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.list))
	copy(out, s.list)
	return out
}
