package dispatch

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed commands.yaml
var defaultCommands []byte

type Entry struct {
	Name        string
	KeywordSets [][]string
}

// Table maps keyword sets to command names. Entries keep the order of the
// source document and are matched in that order.
type Table struct {
	entries []Entry
}

// DefaultTable returns the built-in command table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultCommands)
}

// LoadTable reads a YAML command table from fs.
func LoadTable(fs afero.Fs, path string) (*Table, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read command table: %w", err)
	}

	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes a YAML mapping of command name to a list of keyword
// lists. A scalar instead of a list is a one-word keyword set.
func ParseTable(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse command table: %w", err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("command table is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: command table must be a mapping", root.Line)
	}

	t := &Table{}
	seen := make(map[string]bool)

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]

		name := strings.TrimSpace(key.Value)
		if name == "" {
			return nil, fmt.Errorf("line %d: empty command name", key.Line)
		}
		if seen[name] {
			return nil, fmt.Errorf("line %d: duplicate command %q", key.Line, name)
		}
		seen[name] = true

		if value.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: command %q needs a list of keyword sets", value.Line, name)
		}

		entry := Entry{Name: name}
		for _, item := range value.Content {
			set, err := decodeKeywordSet(item)
			if err != nil {
				return nil, fmt.Errorf("command %q: %w", name, err)
			}
			entry.KeywordSets = append(entry.KeywordSets, set)
		}

		if len(entry.KeywordSets) == 0 {
			return nil, fmt.Errorf("line %d: command %q has no keyword sets", value.Line, name)
		}

		t.entries = append(t.entries, entry)
	}

	return t, nil
}

func decodeKeywordSet(node *yaml.Node) ([]string, error) {
	var words []string

	switch node.Kind {
	case yaml.ScalarNode:
		words = []string{node.Value}
	case yaml.SequenceNode:
		if err := node.Decode(&words); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
	default:
		return nil, fmt.Errorf("line %d: keyword set must be a word or a list of words", node.Line)
	}

	set := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || strings.ContainsAny(w, " \t") {
			return nil, fmt.Errorf("line %d: invalid keyword %q", node.Line, w)
		}
		set = append(set, w)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("line %d: empty keyword set", node.Line)
	}

	return set, nil
}

// Match returns the first command, in table order, with a keyword set that
// is contained in words.
func (t *Table) Match(words WordSet) (string, bool) {
	for _, e := range t.entries {
		for _, set := range e.KeywordSets {
			if words.ContainsAll(set) {
				return e.Name, true
			}
		}
	}
	return "", false
}

func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Names lists the commands in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Name
	}
	return names
}
