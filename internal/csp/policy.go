package csp

import (
	"errors"
	"fmt"
	"strings"
)

// NonceSource is replaced by 'nonce-<N>' when a policy is built for a request.
const NonceSource = "'nonce'"

// Directive is one CSP directive and its source list.
type Directive struct {
	Name    string
	Sources []string
}

// Policy is a declarative Content-Security-Policy. Directive order is preserved in the header.
type Policy struct {
	Directives []Directive
	ReportURI  string
	ReportOnly bool
}

// ErrUnsafeSource is returned when a policy would allow inline or eval'd code without a nonce.
var ErrUnsafeSource = errors.New("csp: unsafe source")

var forbiddenSources = []string{"'unsafe-inline'", "'unsafe-eval'"}

// DefaultPolicy returns the strict nonce-based policy. Inline scripts and styles run only when
// stamped with the request nonce; 'strict-dynamic' lets nonce-trusted scripts load their
// dependencies.
func DefaultPolicy() Policy {
	return Policy{
		Directives: []Directive{
			{"default-src", []string{"'self'"}},
			{"script-src", []string{"'self'", NonceSource, "'strict-dynamic'"}},
			{"style-src", []string{"'self'", NonceSource}},
			{"font-src", []string{"'self'", "data:"}},
			{"img-src", []string{"'self'", "data:", "https:"}},
			{"connect-src", []string{"'self'"}},
			{"frame-src", []string{"'none'"}},
			{"object-src", []string{"'none'"}},
			{"base-uri", []string{"'self'"}},
			{"frame-ancestors", []string{"'none'"}},
			{"form-action", []string{"'self'"}},
		},
	}
}

// Validate rejects policies containing 'unsafe-inline' or 'unsafe-eval' in any directive.
func (p Policy) Validate() error {
	for _, d := range p.Directives {
		for _, src := range d.Sources {
			for _, bad := range forbiddenSources {
				if strings.EqualFold(strings.TrimSpace(src), bad) {
					return fmt.Errorf("%w: %s in %s", ErrUnsafeSource, bad, d.Name)
				}
			}
		}
	}
	return nil
}

// Build renders the header value with nonce substituted for NonceSource.
func (p Policy) Build(nonce string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if !ValidNonce(nonce) {
		return "", errors.New("csp: invalid nonce")
	}

	parts := make([]string, 0, len(p.Directives)+1)
	for _, d := range p.Directives {
		if len(d.Sources) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		sources := make([]string, len(d.Sources))
		for i, src := range d.Sources {
			if src == NonceSource {
				src = "'nonce-" + nonce + "'"
			}
			sources[i] = src
		}
		parts = append(parts, d.Name+" "+strings.Join(sources, " "))
	}
	if p.ReportURI != "" {
		parts = append(parts, "report-uri "+p.ReportURI)
	}
	return strings.Join(parts, "; "), nil
}

// HeaderName returns the header the policy is sent in.
func (p Policy) HeaderName() string {
	if p.ReportOnly {
		return "Content-Security-Policy-Report-Only"
	}
	return "Content-Security-Policy"
}
