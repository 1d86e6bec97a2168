package source

import (
	"context"
	"io/fs"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/propfile"
	"github.com/pkg/errors"
)

// PropertiesConfig configures a properties file source.
type PropertiesConfig struct {
	Path string `yaml:"path"`
}

// Validate checks if the PropertiesConfig has all required fields set
func (c PropertiesConfig) Validate() error {
	if c.Path == "" {
		return errors.New("properties path is required")
	}
	return nil
}

// CreateSource creates a PropertiesSource reading from the file system.
func (c PropertiesConfig) CreateSource(context.Context) (Source, error) {
	return &PropertiesSource{Path: c.Path}, nil
}

// PropertiesSource reads a properties file. When FS is set the path is looked up there
// first and the file system is used as a fallback.
type PropertiesSource struct {
	Path string
	FS   fs.FS
}

// Pairs loads the properties file.
func (p *PropertiesSource) Pairs(context.Context) ([]cfg.Pair, error) {
	store, err := propfile.LoadResourceOrFile(p.FS, p.Path)
	if err != nil {
		return nil, err
	}
	return store.RawPairs()
}

// Name returns the source name
func (p *PropertiesSource) Name() string {
	return "properties file " + p.Path
}
