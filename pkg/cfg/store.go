// Package cfg provides an in-memory configuration store of flat string key/value pairs.
// It offers typed access to the values, subset views over dot-separated key prefixes and
// read-time substitution of expressions of the form ${lookup.key} inside values.
//
// A subset is a view, not a copy: it shares the key/value mapping of the store it was
// derived from, so a change made through any view is immediately visible through all
// other views of the same family.
//
// A Store is not safe for concurrent use. If several goroutines access the same family and
// at least one of them mutates it (Put*, Remove, Merge), all access must be serialized
// externally.
package cfg

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/animalet/sargantana-cfg/internal/snapshot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
)

type (
	// Store holds configuration as string key/value pairs. The zero value is not usable,
	// create stores with New, FromPairs or FromMap.
	Store struct {
		// entries maps absolute keys to raw values. A nil value is the null marker.
		// Shared by every store of the same family.
		entries map[string]*string
		// prefix is empty for a root store and ends with "." for a subset.
		prefix string
	}

	// Pair is a single raw entry as exchanged with loaders and storage backends.
	// A nil Value is a key without value.
	Pair struct {
		Key   string
		Value *string
	}
)

// New creates an empty root store.
func New() *Store {
	return &Store{entries: make(map[string]*string)}
}

// FromPairs creates a root store holding the given pairs. Later pairs overwrite earlier
// ones with the same key.
func FromPairs(pairs []Pair) *Store {
	s := &Store{entries: make(map[string]*string, len(pairs))}
	for _, p := range pairs {
		s.entries[p.Key] = p.Value
	}
	return s
}

// FromMap creates a root store from an arbitrary map. Keys and values are converted to
// their string representation; nil values become keys without value.
func FromMap[K comparable, V any](m map[K]V) (*Store, error) {
	s := &Store{entries: make(map[string]*string, len(m))}
	for k, v := range m {
		if any(k) == nil {
			return nil, errors.Wrap(ErrInvalidKey, "key must not be nil")
		}
		key := stringify(k)
		if any(v) == nil {
			s.entries[key] = nil
			continue
		}
		value := stringify(v)
		s.entries[key] = &value
	}
	return s, nil
}

// Ptr returns a pointer to v, handy for building Pair values.
func Ptr(v string) *string {
	return &v
}

func stringify(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// Subset returns a view on all entries whose key starts with the given prefix. A trailing
// dot is appended to the prefix when missing; the prefix is relative to this store's own
// prefix. Keys passed to the returned store are implicitly qualified by the prefix.
func (s *Store) Subset(prefix string) *Store {
	if !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &Store{entries: s.entries, prefix: s.absoluteKey(prefix)}
}

// IsSubset reports whether s is a subset view rather than a root store.
func (s *Store) IsSubset() bool {
	return s.prefix != ""
}

// Prefix returns the absolute key prefix of this view including its trailing dot, or ""
// for a root store.
func (s *Store) Prefix() string {
	return s.prefix
}

// SubsetName returns the prefix without its trailing dot, or "" for a root store.
func (s *Store) SubsetName() string {
	return strings.TrimSuffix(s.prefix, ".")
}

func (s *Store) absoluteKey(key string) string {
	return s.prefix + key
}

// ContainsKey reports whether the key exists, regardless of its value.
func (s *Store) ContainsKey(key string) bool {
	_, ok := s.entries[s.absoluteKey(key)]
	return ok
}

// ContainsValue reports whether the key has a value that is non-empty after substitution.
func (s *Store) ContainsValue(key string) (bool, error) {
	value, err := s.resolve(s.absoluteKey(key))
	if err != nil {
		return false, err
	}
	return value != "", nil
}

// Keys returns the sorted keys of this view. For a subset the keys are returned without
// the subset prefix. The result is computed on every call.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if rel, ok := strings.CutPrefix(key, s.prefix); ok {
			keys = append(keys, rel)
		}
	}
	slices.Sort(keys)
	return keys
}

// ContainsKeys reports whether this view holds at least one key.
func (s *Store) ContainsKeys() bool {
	for key := range s.entries {
		if strings.HasPrefix(key, s.prefix) {
			return true
		}
	}
	return false
}

// ContainsValues reports whether this view holds at least one key with a non-empty
// resolved value.
func (s *Store) ContainsValues() (bool, error) {
	for _, key := range s.Keys() {
		ok, err := s.ContainsValue(key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// ToMap returns a new map with the entries of this view. Keys without value map to "".
//
// A root store returns its raw values, substitution expressions included. A subset
// returns its entries with the prefix stripped and the values resolved, since
// expressions may point outside of the subset and would become unresolvable once the
// map is detached.
func (s *Store) ToMap() (map[string]string, error) {
	if !s.IsSubset() {
		result := make(map[string]string, len(s.entries))
		for key, value := range s.entries {
			result[key] = deref(value)
		}
		return result, nil
	}
	result := make(map[string]string)
	for key := range s.entries {
		rel, ok := strings.CutPrefix(key, s.prefix)
		if !ok {
			continue
		}
		value, err := s.resolve(key)
		if err != nil {
			return nil, err
		}
		result[rel] = value
	}
	return result, nil
}

// RawPairs returns every literal entry of a root store sorted by key, for serialization.
// Subsets are serialized through their root store.
func (s *Store) RawPairs() ([]Pair, error) {
	if s.IsSubset() {
		return nil, errors.Wrapf(ErrInvalidOperation, "subset %q cannot be exported, export its root store", s.SubsetName())
	}
	pairs := make([]Pair, 0, len(s.entries))
	for _, key := range slices.Sorted(maps.Keys(s.entries)) {
		pairs = append(pairs, Pair{Key: key, Value: s.entries[key]})
	}
	return pairs, nil
}

// Remove deletes the key. Removing a missing key is a no-op.
func (s *Store) Remove(key string) {
	delete(s.entries, s.absoluteKey(key))
}

// Merge copies all entries of other into s, overwriting existing keys.
// Both stores must be root stores: merging a subset would silently drop or misplace
// the entries outside of its prefix.
func (s *Store) Merge(other *Store) error {
	if other == nil {
		return errors.Wrap(ErrInvalidOperation, "cannot merge a nil store")
	}
	if s.IsSubset() || other.IsSubset() {
		return errors.Wrap(ErrInvalidOperation, "only root level stores can be merged, not subsets")
	}
	maps.Copy(s.entries, other.entries)
	log.Debug().Int("entries", len(other.entries)).Msg("Merged configuration store")
	return nil
}

// Clone returns a new root store holding a deep copy of the entries. The clone does not
// belong to the family of s.
func (s *Store) Clone() (*Store, error) {
	if s.IsSubset() {
		return nil, errors.Wrapf(ErrInvalidOperation, "subset %q cannot be cloned, clone its root store", s.SubsetName())
	}
	entries, err := snapshot.Copy(&s.entries)
	if err != nil {
		return nil, err
	}
	if *entries == nil {
		*entries = make(map[string]*string)
	}
	return &Store{entries: *entries}, nil
}

// String renders the view with sorted keys and raw values.
func (s *Store) String() string {
	var b strings.Builder
	b.WriteString("Cfg")
	if s.IsSubset() {
		b.WriteString("(subset=")
		b.WriteString(s.prefix)
		b.WriteString(")")
	}
	b.WriteString("[")
	for i, key := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(key)
		b.WriteByte('=')
		if value := s.entries[s.absoluteKey(key)]; value != nil {
			b.WriteString(*value)
		} else {
			b.WriteString("<nil>")
		}
	}
	b.WriteString("]")
	return b.String()
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
