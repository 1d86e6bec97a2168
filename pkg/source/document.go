package source

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DocumentConfig configures a YAML or TOML document source.
type DocumentConfig struct {
	Path string `yaml:"path"`
}

// Validate checks if the DocumentConfig has all required fields set
func (c DocumentConfig) Validate() error {
	if c.Path == "" {
		return errors.New("document path is required")
	}
	return nil
}

// YAMLConfig configures a YAMLSource.
type YAMLConfig struct {
	DocumentConfig `yaml:",inline"`
}

// CreateSource creates a YAMLSource.
func (c YAMLConfig) CreateSource(context.Context) (Source, error) {
	return &YAMLSource{Path: c.Path}, nil
}

// TOMLConfig configures a TOMLSource.
type TOMLConfig struct {
	DocumentConfig `yaml:",inline"`
}

// CreateSource creates a TOMLSource.
func (c TOMLConfig) CreateSource(context.Context) (Source, error) {
	return &TOMLSource{Path: c.Path}, nil
}

// YAMLSource flattens a YAML document into dotted keys:
//
//	db:
//	  host: localhost   # db.host=localhost
//	  replicas: [a, b]  # db.replicas=a,b
//
// Data takes precedence over Path when set.
type YAMLSource struct {
	Path string
	Data []byte
}

// Pairs parses and flattens the document.
func (y *YAMLSource) Pairs(context.Context) ([]cfg.Pair, error) {
	data, err := readDocument(y.Path, y.Data)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid YAML document")
	}
	return flatten(doc)
}

// Name returns the source name
func (y *YAMLSource) Name() string {
	return documentName("YAML", y.Path)
}

// TOMLSource flattens a TOML document into dotted keys; tables become key prefixes.
// Data takes precedence over Path when set.
type TOMLSource struct {
	Path string
	Data []byte
}

// Pairs parses and flattens the document.
func (t *TOMLSource) Pairs(context.Context) ([]cfg.Pair, error) {
	data, err := readDocument(t.Path, t.Data)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid TOML document")
	}
	return flatten(doc)
}

// Name returns the source name
func (t *TOMLSource) Name() string {
	return documentName("TOML", t.Path)
}

func documentName(kind, path string) string {
	if path == "" {
		return kind + " document"
	}
	return kind + " document " + path
}

func readDocument(path string, data []byte) ([]byte, error) {
	if data != nil {
		return data, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- loading a caller-chosen config file is the purpose
	if err != nil {
		return nil, errors.Wrapf(err, "file %q could not be opened", path)
	}
	return data, nil
}

// flatten turns nested maps into dotted keys sorted by key. Lists of scalars are joined
// with ','; lists of maps or lists and elements holding an array delimiter are rejected.
func flatten(doc map[string]any) ([]cfg.Pair, error) {
	var pairs []cfg.Pair
	if err := flattenInto(&pairs, "", doc); err != nil {
		return nil, err
	}
	slices.SortFunc(pairs, func(a, b cfg.Pair) int { return strings.Compare(a.Key, b.Key) })
	return pairs, nil
}

func flattenInto(pairs *[]cfg.Pair, prefix string, node any) error {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if err := flattenInto(pairs, prefix+k+".", v); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for k, v := range n {
			if err := flattenInto(pairs, prefix+scalar(k)+".", v); err != nil {
				return err
			}
		}
		return nil
	}

	key := strings.TrimSuffix(prefix, ".")
	switch n := node.(type) {
	case nil:
		*pairs = append(*pairs, cfg.Pair{Key: key})
	case []any:
		elements := make([]string, 0, len(n))
		for _, e := range n {
			switch e.(type) {
			case map[string]any, map[any]any, []any:
				return errors.Errorf("key %q: lists of objects are not supported", key)
			}
			elements = append(elements, scalar(e))
		}
		value, err := cfg.JoinStrings(key, elements)
		if err != nil {
			return err
		}
		*pairs = append(*pairs, cfg.Pair{Key: key, Value: &value})
	default:
		*pairs = append(*pairs, cfg.Pair{Key: key, Value: cfg.Ptr(scalar(n))})
	}
	return nil
}

func scalar(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
