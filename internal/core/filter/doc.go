// Package filter detects and masks registered sensitive terms in text.
//
// A Matcher is a trie over Unicode code points stored as an arena of nodes
// addressed by index. It is built once from a term list and never mutated
// afterwards, so any number of goroutines may call Scan concurrently.
//
// Matching is first-match, not longest-match: from every start position the
// walk stops at the first terminal node, so when one term is a prefix of
// another the shorter one wins.
package filter
