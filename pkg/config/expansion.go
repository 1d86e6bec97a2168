package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// expander resolves ${name}, ${env:name} and ${file:name} references.
type expander struct {
	secretsDir string
	err        error
}

func newExpander(secretsDir string) *expander {
	return &expander{secretsDir: secretsDir}
}

// expand is the mapping function for os.Expand. The first failure is kept in e.err.
func (e *expander) expand(s string) string {
	prefix, key, found := strings.Cut(s, ":")
	if !found {
		prefix, key = "env", s
	}

	var value string
	var err error
	switch prefix {
	case "env":
		value = os.Getenv(key)
		if value == "" {
			log.Warn().
				Str("env_var", key).
				Msg("Environment variable not set or empty - using empty string")
		}
	case "file":
		value, err = e.readSecret(key)
	default:
		err = errors.Errorf("unknown reference prefix %q", prefix)
	}
	if err != nil && e.err == nil {
		e.err = errors.Wrapf(err, "error resolving property %q", s)
	}
	return value
}

// readSecret reads a file inside the secrets directory. The content is trimmed.
func (e *expander) readSecret(name string) (string, error) {
	if name == "" {
		return "", errors.New("no file specified for file secret")
	}
	if filepath.IsAbs(name) {
		return "", errors.New("invalid secret key: absolute paths not allowed")
	}
	cleanName := filepath.Clean(name)
	if strings.Contains(cleanName, "..") {
		return "", errors.New("invalid secret key: path traversal detected")
	}

	// #nosec G304 -- Path traversal is prevented by validation above
	content, err := os.ReadFile(filepath.Join(e.secretsDir, cleanName))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret file %q", cleanName)
	}
	log.Debug().Str("file", cleanName).Msg("Retrieved value from secret file")
	return strings.TrimSpace(string(content)), nil
}

// expandNode recursively expands the references in every scalar of the document.
// Mapping keys are left untouched.
func expandNode(node *yaml.Node, e *expander) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if strings.Contains(node.Value, "$") {
			node.Value = os.Expand(strings.TrimSpace(node.Value), e.expand)
			// plain scalars are re-typed from the expanded value, e.g. port: ${PORT}
			if node.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
				node.Tag = ""
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(node.Content); i += 2 {
			if err := expandNode(node.Content[i], e); err != nil {
				return err
			}
		}
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if err := expandNode(child, e); err != nil {
				return err
			}
		}
	}
	return e.err
}
