package cfg

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// arrayDelimiters separate the elements of a string array value.
const arrayDelimiters = ",;:"

// GetStringOr returns the resolved value for the key, or def if the key is missing or its
// value is empty.
func (s *Store) GetStringOr(key, def string) (string, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return value, nil
}

// GetString returns the resolved value for the key.
func (s *Store) GetString(key string) (string, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", s.missing(key)
	}
	return value, nil
}

// GetBoolOr returns true if the value equals "true" ignoring case and false for any other
// value. A missing value returns def. It never fails on malformed values.
func (s *Store) GetBoolOr(key string, def bool) (bool, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return strings.EqualFold(value, "true"), nil
}

// GetBool is the mandatory form of GetBoolOr.
func (s *Store) GetBool(key string) (bool, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.missing(key)
	}
	return strings.EqualFold(value, "true"), nil
}

// GetIntOr returns the value as a 32-bit signed integer, or def if it is missing.
func (s *Store) GetIntOr(key string, def int) (int, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return parseInt(key, value)
}

// GetInt is the mandatory form of GetIntOr.
func (s *Store) GetInt(key string) (int, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, s.missing(key)
	}
	return parseInt(key, value)
}

// GetInt64Or returns the value as a 64-bit signed integer, or def if it is missing.
func (s *Store) GetInt64Or(key string, def int64) (int64, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return parseInt64(key, value)
}

// GetInt64 is the mandatory form of GetInt64Or.
func (s *Store) GetInt64(key string) (int64, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, s.missing(key)
	}
	return parseInt64(key, value)
}

// GetDecimalOr returns the value as an arbitrary-precision decimal, or def if it is missing.
func (s *Store) GetDecimalOr(key string, def decimal.Decimal) (decimal.Decimal, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return parseDecimal(key, value)
}

// GetDecimal is the mandatory form of GetDecimalOr.
func (s *Store) GetDecimal(key string) (decimal.Decimal, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, s.missing(key)
	}
	return parseDecimal(key, value)
}

// GetStringsOr splits the value on ',', ';' and ':' and trims every element. Empty
// trailing elements are dropped. A missing value returns def.
func (s *Store) GetStringsOr(key string, def []string) ([]string, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return splitAndTrim(value), nil
}

// GetStrings is the mandatory form of GetStringsOr.
func (s *Store) GetStrings(key string) ([]string, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.missing(key)
	}
	return splitAndTrim(value), nil
}

// GetEnumOr returns the value as one of the given symbols, or def if it is missing.
// The value must match a symbol exactly.
func GetEnumOr[T ~string](s *Store, key string, def T, symbols ...T) (T, error) {
	value, ok, err := s.lookup(key)
	if err != nil || !ok {
		return def, err
	}
	return parseEnum(key, value, symbols)
}

// GetEnum is the mandatory form of GetEnumOr.
func GetEnum[T ~string](s *Store, key string, symbols ...T) (T, error) {
	value, ok, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", s.missing(key)
	}
	return parseEnum(key, value, symbols)
}

// lookup resolves the key; ok is false when there is no non-empty value.
func (s *Store) lookup(key string) (value string, ok bool, err error) {
	value, err = s.resolve(s.absoluteKey(key))
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}

func (s *Store) missing(key string) error {
	if s.IsSubset() {
		return errors.Wrapf(ErrMissingKey, "no value configured for key %q in subset %q", key, s.prefix)
	}
	return errors.Wrapf(ErrMissingKey, "no value configured for key %q", key)
}

func invalidFormat(key, value, kind string) error {
	return errors.Wrapf(ErrInvalidFormat, "value %q for key %q is no valid %s", value, key, kind)
}

func parseInt(key, value string) (int, error) {
	i, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, invalidFormat(key, value, "int")
	}
	return int(i), nil
}

func parseInt64(key, value string) (int64, error) {
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, invalidFormat(key, value, "long")
	}
	return i, nil
}

func parseDecimal(key, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, invalidFormat(key, value, "decimal")
	}
	return d, nil
}

func parseEnum[T ~string](key, value string, symbols []T) (T, error) {
	if i := slices.Index(symbols, T(value)); i >= 0 {
		return symbols[i], nil
	}
	return "", errors.Wrapf(ErrInvalidFormat, "value %q for key %q is none of %v", value, key, symbols)
}

func splitAndTrim(value string) []string {
	var parts []string
	start := 0
	for i, r := range value {
		if strings.ContainsRune(arrayDelimiters, r) {
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	parts = append(parts, value[start:])
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
