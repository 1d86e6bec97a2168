// Package propfile reads and writes configuration stores in the flat properties-file
// format: key=value (or key: value) lines, '#' and '!' comments, backslash escapes and
// line continuations.
//
// Substitution expressions are kept literally on both read and write; they are resolved
// by the store when values are accessed.
package propfile

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/magiconair/properties"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Parse parses a properties blob into key/value pairs in file order. Every parsed key
// has a value; an empty value is read as "". The empty key, written as a line starting
// with '=' or ':', comes first.
func Parse(data []byte) ([]cfg.Pair, error) {
	rest, emptyKey := cutEmptyKey(data)
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(rest)
	if err != nil {
		return nil, errors.Wrap(err, "the properties could not be parsed")
	}
	keys := p.Keys()
	pairs := make([]cfg.Pair, 0, len(keys)+1)
	if emptyKey != nil {
		// parsed under a placeholder key, the loader rejects lines without key
		e, err := loader.LoadBytes(append([]byte("k"), emptyKey...))
		if err != nil {
			return nil, errors.Wrap(err, "the properties could not be parsed")
		}
		value, _ := e.Get("k")
		pairs = append(pairs, cfg.Pair{Key: "", Value: cfg.Ptr(value)})
	}
	for _, key := range keys {
		value, _ := p.Get(key)
		pairs = append(pairs, cfg.Pair{Key: key, Value: cfg.Ptr(value)})
	}
	return pairs, nil
}

// cutEmptyKey removes the logical lines that start with a separator from data and
// returns the last of them.
func cutEmptyKey(data []byte) (rest, emptyKey []byte) {
	if !bytes.ContainsAny(data, "=:") {
		return data, nil
	}
	rest = make([]byte, 0, len(data))
	continued, inEmptyKey := false, false
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		comment := false
		if !continued {
			trimmed := bytes.TrimLeft(line, " \t\f")
			inEmptyKey = len(trimmed) > 0 && (trimmed[0] == '=' || trimmed[0] == ':')
			comment = len(trimmed) > 0 && (trimmed[0] == '#' || trimmed[0] == '!')
			if inEmptyKey {
				emptyKey = emptyKey[:0]
			}
		}
		if inEmptyKey {
			emptyKey = append(emptyKey, line...)
		} else {
			rest = append(rest, line...)
		}
		continued = !comment && oddBackslashes(bytes.TrimRight(line, "\r\n"))
	}
	return rest, emptyKey
}

// oddBackslashes reports whether line ends with an unescaped backslash.
func oddBackslashes(line []byte) bool {
	n := len(line) - len(bytes.TrimRight(line, "\\"))
	return n%2 == 1
}

// Load reads a properties stream into a new root store. The reader is not closed.
func Load(r io.Reader) (*cfg.Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "the property stream could not be read")
	}
	pairs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.FromPairs(pairs), nil
}

// LoadFile reads a properties file into a new root store.
func LoadFile(path string) (*cfg.Store, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- loading a caller-chosen config file is the purpose
	if err != nil {
		return nil, errors.Wrapf(err, "file %q could not be opened", path)
	}
	pairs, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "file %q", path)
	}
	log.Debug().Str("file", path).Int("entries", len(pairs)).Msg("Loaded properties file")
	return cfg.FromPairs(pairs), nil
}

// LoadResourceOrFile looks name up in fsys first (typically an embed.FS holding bundled
// defaults) and falls back to the file system path. A leading slash is ignored for the
// fsys lookup. fsys may be nil.
func LoadResourceOrFile(fsys fs.FS, name string) (*cfg.Store, error) {
	if fsys != nil {
		data, err := fs.ReadFile(fsys, strings.TrimPrefix(name, "/"))
		if err == nil {
			pairs, err := Parse(data)
			if err != nil {
				return nil, errors.Wrapf(err, "resource %q", name)
			}
			log.Debug().Str("resource", name).Int("entries", len(pairs)).Msg("Loaded properties resource")
			return cfg.FromPairs(pairs), nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
			return nil, errors.Wrapf(err, "resource %q could not be read", name)
		}
	}
	if _, err := os.Stat(name); err != nil {
		return nil, errors.Wrapf(err, "the file or resource %q does not exist", name)
	}
	return LoadFile(name)
}

// Write serializes the raw entries of a root store, sorted by key. Keys without value are
// written with an empty value. Subsets must be written through their root store.
func Write(w io.Writer, s *cfg.Store) error {
	pairs, err := s.RawPairs()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, pair := range pairs {
		b.WriteString(escape(pair.Key, true))
		b.WriteByte('=')
		if pair.Value != nil {
			b.WriteString(escape(*pair.Value, false))
		}
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(err, "the properties could not be written")
	}
	return nil
}

// escape encodes s so that the properties parser reads it back unchanged. Leading blanks
// are escaped since the parser skips them, as are separators and comment markers in keys.
func escape(s string, key bool) string {
	var b strings.Builder
	leading := true
	for i, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\f':
			b.WriteString(`\f`)
		case r == ' ' && (key || leading):
			b.WriteString(`\ `)
		case key && (r == '=' || r == ':'):
			b.WriteByte('\\')
			b.WriteRune(r)
		case key && i == 0 && (r == '#' || r == '!'):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		if r != ' ' {
			leading = false
		}
	}
	return b.String()
}

// Marshal returns the serialized form of a root store.
func Marshal(s *cfg.Store) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StoreFile writes a root store to the given file, creating missing parent directories
// and overwriting an existing file.
func StoreFile(path string, s *cfg.Store) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "directory of %q could not be created", path)
	}
	header := fmt.Sprintf("# Saved at %s\n", time.Now().Format(time.RFC1123))
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return errors.Wrapf(err, "the properties could not be written to file %q", path)
	}
	log.Debug().Str("file", path).Msg("Stored properties file")
	return nil
}
