// Package file provides file-based implementations of driven port interfaces.
// These adapters read and persist data on the local filesystem.
//
// Adapters:
//   - ConfigStore: TOML-based configuration storage
//   - LoadTerms / LoadKnowledge: sensitive-term list and knowledge corpus loaders
//   - TermWatcher: rebuilds the term matcher when the term file changes
package file
