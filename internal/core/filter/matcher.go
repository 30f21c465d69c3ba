package filter

import (
	"sort"
	"strings"
)

// Mask replaces every rune of a matched term.
const Mask = '*'

// root is the arena index of the trie root.
const root = 0

// node is one trie state. Children are arena indices.
type node struct {
	children map[rune]int32
	terminal bool
}

// Matcher is an immutable multi-term automaton.
type Matcher struct {
	nodes []node
	terms int
}

// ScanResult is the outcome of scanning one text.
type ScanResult struct {
	// Masked is the input with every matched rune replaced by Mask.
	Masked string

	// Found holds the distinct matched terms, sorted.
	Found []string
}

// HasMatches returns true if any term was found.
func (r ScanResult) HasMatches() bool {
	return len(r.Found) > 0
}

// Build constructs a Matcher from terms. Empty terms are ignored and
// duplicates are harmless. A nil or empty list yields a matcher that
// matches nothing.
func Build(terms []string) *Matcher {
	m := &Matcher{nodes: []node{{}}}
	for _, term := range terms {
		m.insert(term)
	}
	return m
}

func (m *Matcher) insert(term string) {
	if term == "" {
		return
	}
	cur := int32(root)
	for _, r := range term {
		n := &m.nodes[cur]
		next, ok := n.children[r]
		if !ok {
			if n.children == nil {
				n.children = make(map[rune]int32)
			}
			next = int32(len(m.nodes))
			n.children[r] = next
			// n may dangle after append; it is not used again.
			m.nodes = append(m.nodes, node{})
		}
		cur = next
	}
	if !m.nodes[cur].terminal {
		m.nodes[cur].terminal = true
		m.terms++
	}
}

// Len returns the number of distinct registered terms.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return m.terms
}

// Scan masks every registered term found in text.
//
// Each rune position is tried as a start. The walk from a start position
// accepts the first terminal node it reaches, masks that span, records the
// term and moves on to the next start position. Already masked runes are
// ordinary input to the automaton.
func (m *Matcher) Scan(text string) ScanResult {
	if text == "" || m.Len() == 0 {
		return ScanResult{Masked: text, Found: []string{}}
	}

	buf := []rune(text)
	found := make(map[string]struct{})

	for i := range buf {
		if end, ok := m.matchAt(buf, i); ok {
			found[string(buf[i:end+1])] = struct{}{}
			for k := i; k <= end; k++ {
				buf[k] = Mask
			}
		}
	}

	if len(found) == 0 {
		return ScanResult{Masked: text, Found: []string{}}
	}
	return ScanResult{Masked: string(buf), Found: sortedKeys(found)}
}

// Contains reports whether text holds any registered term.
func (m *Matcher) Contains(text string) bool {
	if text == "" || m.Len() == 0 {
		return false
	}
	buf := []rune(text)
	for i := range buf {
		if _, ok := m.matchAt(buf, i); ok {
			return true
		}
	}
	return false
}

// matchAt walks the trie from buf[start] and returns the index of the last
// rune of the first term reached.
func (m *Matcher) matchAt(buf []rune, start int) (int, bool) {
	cur := int32(root)
	for j := start; j < len(buf); j++ {
		next, ok := m.nodes[cur].children[buf[j]]
		if !ok {
			return 0, false
		}
		cur = next
		if m.nodes[cur].terminal {
			return j, true
		}
	}
	return 0, false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseTerms splits a newline-separated term list. Blank lines and lines
// starting with '#' are skipped; surrounding whitespace is trimmed.
func ParseTerms(data string) []string {
	var terms []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	return terms
}
