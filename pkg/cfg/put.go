package cfg

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Put stores the value under the key, replacing any existing entry.
func (s *Store) Put(key, value string) {
	s.entries[s.absoluteKey(key)] = &value
}

// PutNull stores the key without value. The key exists but every accessor treats it as
// missing.
func (s *Store) PutNull(key string) {
	s.entries[s.absoluteKey(key)] = nil
}

// PutBool stores "true" or "false".
func (s *Store) PutBool(key string, value bool) {
	s.Put(key, strconv.FormatBool(value))
}

// PutInt stores the decimal representation of value.
func (s *Store) PutInt(key string, value int) {
	s.Put(key, strconv.Itoa(value))
}

// PutInt64 stores the decimal representation of value.
func (s *Store) PutInt64(key string, value int64) {
	s.Put(key, strconv.FormatInt(value, 10))
}

// PutDecimal stores the plain (non-exponential) representation of value.
func (s *Store) PutDecimal(key string, value decimal.Decimal) {
	s.Put(key, value.String())
}

// PutEnum stores the symbol.
func PutEnum[T ~string](s *Store, key string, value T) {
	s.Put(key, string(value))
}

// PutStrings stores the elements joined by ','. A nil slice stores the key without value.
// Elements must not contain any of the delimiters ',', ';' or ':' since they could not be
// read back as the same array.
func (s *Store) PutStrings(key string, values []string) error {
	if values == nil {
		s.PutNull(key)
		return nil
	}
	value, err := JoinStrings(key, values)
	if err != nil {
		return err
	}
	s.Put(key, value)
	return nil
}

// JoinStrings joins the elements of an array value for the key with ','. It fails with
// ErrInvalidValue if an element contains one of the delimiters ',', ';' or ':'.
func JoinStrings(key string, values []string) (string, error) {
	for _, v := range values {
		if strings.ContainsAny(v, arrayDelimiters) {
			return "", errors.Wrapf(ErrInvalidValue, "array value %q for key %q contains one of the delimiters %q", v, key, arrayDelimiters)
		}
	}
	return strings.Join(values, ","), nil
}
