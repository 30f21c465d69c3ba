package file

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/filter"
)

//go:embed defaults/terms.txt defaults/knowledge.yaml
var defaults embed.FS

const (
	defaultTermsFile     = "defaults/terms.txt"
	defaultKnowledgeFile = "defaults/knowledge.yaml"
)

// LoadTerms reads the sensitive-term list from path, or the built-in list if
// path is empty, and appends extra. Duplicates are removed, first occurrence wins.
func LoadTerms(path string, extra []string) ([]string, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = defaults.ReadFile(defaultTermsFile)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading terms: %w", err)
	}

	terms := filter.ParseTerms(string(data))
	for _, t := range extra {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return dedupe(terms), nil
}

// LoadKnowledge reads the knowledge corpus from path, or the built-in corpus
// if path is empty. The format is chosen by extension: .json, .yaml or .yml.
// Every document needs an id; ids must be unique.
func LoadKnowledge(path string) ([]domain.KnowledgeDocument, error) {
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if path == "" {
		data, err = defaults.ReadFile(defaultKnowledgeFile)
		ext = ".yaml"
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading knowledge corpus: %w", err)
	}

	docs, err := decodeKnowledge(data, ext)
	if err != nil {
		return nil, fmt.Errorf("decoding knowledge corpus %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("%w: knowledge document %d has no id", domain.ErrInvalidInput, i)
		}
		if _, dup := seen[doc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate knowledge document id %q", domain.ErrInvalidInput, doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
	return docs, nil
}

func decodeKnowledge(data []byte, ext string) ([]domain.KnowledgeDocument, error) {
	var docs []domain.KnowledgeDocument
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&docs); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: knowledge file extension %q", domain.ErrUnsupportedType, ext)
	}
	return docs, nil
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
