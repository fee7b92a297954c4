package segwatch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MaxPathLen mirrors the traditional PATH_MAX ceiling (spec.md §8
// testable property 10: a path that would reach it is rejected at
// construction, never discovered lazily from an event).
const MaxPathLen = 4096

// placeholder is the digit-capturing marker a template's final component
// must contain exactly once.
const placeholder = "%u"

// node describes one parsed template component: either a literal/glob
// directory component (non-final) or the final %u-bearing file component.
type templateNode struct {
	dir  string // literal directory prefix accumulated before this component
	glob string // the component pattern itself ("*", "tenant-?", "urlprefs-%u", ...)
	sub  string // remaining template to resolve once this component's concrete dir is known ("" at the leaf)
}

// parseTemplate validates the wildcard grammar from spec.md §4.3 / §6 and
// splits it into a chain of templateNodes, folding purely-literal
// directory components into the `dir` prefix of the next wildcard node
// (mirroring the original library's prefdir_new_branch, which only
// allocates a node per wildcard-or-final component).
func parseTemplate(path string) (*templateNode, error) {
	if path == "" {
		return nil, fmt.Errorf("segwatch: empty path template")
	}
	if len(path) > MaxPathLen-32 {
		return nil, fmt.Errorf("segwatch: template %q exceeds maximum path length", path)
	}

	abs := path
	if !filepath.IsAbs(abs) {
		var err error
		abs, err = filepath.Abs(abs)
		if err != nil {
			return nil, fmt.Errorf("segwatch: resolving %q: %w", path, err)
		}
	}

	parts := strings.Split(abs, "/")
	// parts[0] is "" for the leading slash of an absolute path.
	last := len(parts) - 1

	for i, p := range parts {
		if i == 0 && p == "" {
			continue
		}
		isFinal := i == last
		hasPlaceholder := strings.Contains(p, placeholder)
		hasGlob := strings.ContainsAny(p, "*?")

		if isFinal {
			if !hasPlaceholder {
				return nil, fmt.Errorf("segwatch: final component %q must contain exactly one %s", p, placeholder)
			}
			if strings.Count(p, placeholder) != 1 {
				return nil, fmt.Errorf("segwatch: final component %q must contain exactly one %s", p, placeholder)
			}
			if hasGlob {
				return nil, fmt.Errorf("segwatch: final component %q must not contain wildcards other than %s", p, placeholder)
			}
		} else {
			if hasPlaceholder {
				return nil, fmt.Errorf("segwatch: %s is only allowed in the final path component, found in %q", placeholder, p)
			}
		}
	}

	return buildChain(parts, 1), nil
}

// buildChain walks parts[from:] accumulating literal directories into a
// base prefix until it hits a wildcard component or the final component,
// at which point it emits a templateNode and (for non-final hits) defers
// the rest of the template to that node's `sub`.
func buildChain(parts []string, from int) *templateNode {
	last := len(parts) - 1
	dir := strings.Join(parts[:from], "/")
	if dir == "" {
		dir = "/"
	}

	for i := from; i <= last; i++ {
		p := parts[i]
		isFinal := i == last
		hasGlob := strings.ContainsAny(p, "*?") || strings.Contains(p, placeholder)

		if isFinal || hasGlob {
			var sub string
			if !isFinal {
				sub = strings.Join(parts[i+1:], "/")
			}
			return &templateNode{dir: dir, glob: p, sub: sub}
		}

		if dir == "/" {
			dir = "/" + p
		} else {
			dir = dir + "/" + p
		}
	}

	// Unreachable: the final component always satisfies the loop's exit
	// condition above.
	return &templateNode{dir: dir, glob: parts[last]}
}

// leafPattern splits a final-component pattern like "urlprefs-%u" around
// its single %u placeholder so file names can be matched and their id
// extracted.
type leafPattern struct {
	prefix string
	suffix string
}

func newLeafPattern(glob string) leafPattern {
	idx := strings.Index(glob, placeholder)
	return leafPattern{prefix: glob[:idx], suffix: glob[idx+len(placeholder):]}
}

// match reports whether name matches the pattern and, if so, the id
// parsed from the %u span. A non-numeric span yields id 0 (spec.md §6).
func (p leafPattern) match(name string) (id uint32, ok bool) {
	if !strings.HasPrefix(name, p.prefix) || !strings.HasSuffix(name, p.suffix) {
		return 0, false
	}
	span := name[len(p.prefix) : len(name)-len(p.suffix)]
	if span == "" {
		return 0, false
	}
	id, numeric := parseDigits(span)
	if !numeric {
		return 0, true
	}
	return id, true
}

func parseDigits(s string) (uint32, bool) {
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
		if v > 0xFFFFFFFF {
			return 0xFFFFFFFF, true
		}
	}
	return uint32(v), true
}
