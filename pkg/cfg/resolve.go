package cfg

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	substitutionStart = "${"
	substitutionEnd   = '}'

	// maxResolvedLength bounds intermediate strings whose growth is not caught by the
	// checkpoint comparison in resolve.
	maxResolvedLength = 1 << 20
)

// resolve returns the value stored under the absolute key with all ${key} expressions
// replaced. Missing keys and keys without value resolve to "".
//
// Expressions are replaced leftmost first, one at a time, until none is left. The key
// inside an expression is absolute: it is looked up in the shared mapping regardless of
// the view's prefix. An expression without closing brace ends the substitution and is
// kept literally.
//
// The text before the leftmost expression, less a trailing run of '$', can no longer
// change and is moved to the result. A substitution is circular when the remaining text
// recurs, or when it regrows a former state: a rewrite reads nothing past the closing
// brace of its expression, so once the part of a checkpoint that rewrites have read
// reappears at the start of the remaining text, the same rewrites repeat forever.
func (s *Store) resolve(key string) (string, error) {
	raw := s.entries[key]
	if raw == nil {
		return "", nil
	}
	value := *raw
	var done strings.Builder

	// checkpoint is moved forward after 1, 2, 4, ... rewrites. unread is the length of
	// its suffix that no rewrite since has read.
	checkpoint, unread := value, len(value)
	steps, period := 0, 1
	for {
		start := strings.Index(value, substitutionStart)
		if start < 0 {
			break
		}
		end := strings.IndexByte(value[start:], substitutionEnd)
		if end < 0 {
			break
		}
		end += start

		substKey := value[start+len(substitutionStart) : end]
		subst, ok := s.entries[substKey]
		if !ok {
			return "", errors.Wrapf(ErrUnresolvedSubstitution, "the substitution key %q of key %q does not exist", substKey, key)
		}
		fixed := len(strings.TrimRight(value[:start], "$"))
		done.WriteString(value[:fixed])
		unread = min(unread, len(value)-end-1)
		value = value[fixed:start] + deref(subst) + value[end+1:]

		if done.Len()+len(value) > maxResolvedLength || repeats(value, checkpoint, unread) {
			return "", errors.Wrapf(ErrCircularSubstitution, "key %q leads to a circular, non-resolvable substitution", key)
		}
		if steps++; steps == period {
			checkpoint, unread = value, len(value)
			steps, period = 0, period*2
		}
	}
	done.WriteString(value)
	return done.String(), nil
}

// repeats reports whether value is checkpoint again, or checkpoint with text inserted
// before its unread suffix.
func repeats(value, checkpoint string, unread int) bool {
	return len(value) >= len(checkpoint) && strings.HasPrefix(value, checkpoint[:len(checkpoint)-unread])
}
