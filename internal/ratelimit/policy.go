// Package ratelimit enforces the IP, user and burst ceilings of the named rate limit policies.
package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/staffdesk/gatekeeper/internal/config"
)

// Policy names.
const (
	General  = "general"
	Login    = "login"
	Document = "document"
	Search   = "search"
)

// LimitType identifies which ceiling a decision refers to.
type LimitType string

const (
	LimitIP    LimitType = "IP"
	LimitUser  LimitType = "USER"
	LimitBurst LimitType = "BURST"
)

// Policy is one named set of ceilings.
type Policy struct {
	Name           string
	Window         time.Duration
	IPMax          int
	UserMax        int
	BurstWindow    time.Duration
	BurstMax       int
	SkipSuccessful bool // only responses with status >= 400 count toward IP and USER
}

// PoliciesFromConfig builds the four named policies.
func PoliciesFromConfig(cfg config.RateLimitConfig) map[string]Policy {
	fromBlock := func(name string, p config.PolicyConfig) Policy {
		return Policy{
			Name:           name,
			Window:         p.Window.Duration,
			IPMax:          p.IPMax,
			UserMax:        p.UserMax,
			BurstWindow:    p.BurstWindow.Duration,
			BurstMax:       p.BurstMax,
			SkipSuccessful: p.SkipSuccessful,
		}
	}
	return map[string]Policy{
		General: {
			Name:        General,
			Window:      cfg.Window.Duration,
			IPMax:       cfg.MaxRequests,
			UserMax:     cfg.UserMaxRequests,
			BurstWindow: cfg.BurstWindow.Duration,
			BurstMax:    cfg.BurstMax,
		},
		Login:    fromBlock(Login, cfg.Login),
		Document: fromBlock(Document, cfg.Document),
		Search:   fromBlock(Search, cfg.Search),
	}
}

type route struct {
	prefix string
	policy Policy
}

// Router maps request paths to policies by longest matching prefix.
type Router struct {
	routes  []route
	general Policy
}

// NewRouter builds a router. Every route must name a policy present in policies, and
// policies must contain General.
func NewRouter(policies map[string]Policy, routes map[string]string) (*Router, error) {
	general, ok := policies[General]
	if !ok {
		return nil, fmt.Errorf("ratelimit: %q policy is required", General)
	}
	rt := &Router{general: general}
	for prefix, name := range routes {
		p, ok := policies[name]
		if !ok {
			return nil, fmt.Errorf("ratelimit: route %q references unknown policy %q", prefix, name)
		}
		rt.routes = append(rt.routes, route{prefix: prefix, policy: p})
	}
	sort.Slice(rt.routes, func(i, j int) bool {
		if len(rt.routes[i].prefix) != len(rt.routes[j].prefix) {
			return len(rt.routes[i].prefix) > len(rt.routes[j].prefix)
		}
		return rt.routes[i].prefix < rt.routes[j].prefix
	})
	return rt, nil
}

// Classify returns the policy for path.
func (rt *Router) Classify(path string) Policy {
	for _, r := range rt.routes {
		if strings.HasPrefix(path, r.prefix) {
			return r.policy
		}
	}
	return rt.general
}
