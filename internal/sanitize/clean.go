// Package sanitize enforces body limits on mutating JSON requests and strips script
// payloads from every string value. It is defense in depth; output encoding at render time
// remains the primary XSS control.
package sanitize

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptBlockRegex = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	scriptTagRegex   = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>?`)
	jsSchemeRegex    = regexp.MustCompile(`(?i)javascript\s*:`)
	handlerRegex     = regexp.MustCompile(`(?i)\bon\w+\s*=`)

	// Signatures that mark a value as an attack rather than sloppy input.
	signatureRegex = regexp.MustCompile(`(?i)<\s*script|javascript\s*:`)
)

// maxPasses bounds re-stripping of payloads that reassemble after one pass,
// such as "<scr<script>ipt>".
const maxPasses = 5

// Cleaner strips script content from strings.
type Cleaner struct {
	strict *bluemonday.Policy
}

// NewCleaner creates a cleaner. With stripHTML every tag is removed, not only scripts, and
// the remaining text is HTML-escaped.
func NewCleaner(stripHTML bool) *Cleaner {
	c := &Cleaner{}
	if stripHTML {
		c.strict = bluemonday.StrictPolicy()
	}
	return c
}

// IsAttack reports whether s carries a script tag or javascript: scheme.
func IsAttack(s string) bool {
	return signatureRegex.MatchString(s)
}

// String returns s with script blocks, javascript: schemes and inline handler attributes
// removed.
func (c *Cleaner) String(s string) string {
	out := s
	for i := 0; i < maxPasses; i++ {
		// Whole blocks go first; stripping bare tags early would leave a reassembled
		// block's body behind as text.
		next := stripBlocks(out)
		next = scriptTagRegex.ReplaceAllString(next, "")
		next = jsSchemeRegex.ReplaceAllString(next, "")
		next = handlerRegex.ReplaceAllString(next, "")
		if next == out {
			break
		}
		out = next
	}
	if c.strict != nil {
		out = c.strict.Sanitize(out)
	}
	return out
}

func stripBlocks(s string) string {
	for i := 0; i < maxPasses; i++ {
		next := scriptBlockRegex.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return s
}

// Value walks a decoded JSON value and cleans every string in place. It returns the cleaned
// value, how many strings changed, and whether any string carried an attack signature.
func (c *Cleaner) Value(v any) (any, int, bool) {
	switch t := v.(type) {
	case string:
		attack := IsAttack(t)
		cleaned := c.String(t)
		if cleaned != t {
			return cleaned, 1, attack
		}
		return t, 0, attack
	case map[string]any:
		changed, attack := 0, false
		for k, val := range t {
			nv, n, a := c.Value(val)
			t[k] = nv
			changed += n
			attack = attack || a
		}
		return t, changed, attack
	case []any:
		changed, attack := 0, false
		for i, val := range t {
			nv, n, a := c.Value(val)
			t[i] = nv
			changed += n
			attack = attack || a
		}
		return t, changed, attack
	default:
		return v, 0, false
	}
}
