package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/animalet/sargantana-cfg/pkg/backend"
	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/config"
	"github.com/animalet/sargantana-cfg/pkg/propfile"
	"github.com/animalet/sargantana-cfg/pkg/server"
	"github.com/animalet/sargantana-cfg/pkg/source"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information set during build
var (
	version = "dev"
)

const defaultAddress = "localhost:8080"

type options struct {
	configPath     string
	propertiesPath string
	get            string
	subset         string
	writePath      string
	address        string
	serve          bool
	save           bool
	restore        bool
	debug          bool
	showVersion    bool
	showHelp       bool
}

func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("cfgstore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "Path to the bootstrap configuration file")
	fs.StringVar(&opts.propertiesPath, "properties", "", "Properties file loaded after the configured sources")
	fs.StringVar(&opts.get, "get", "", "Print the resolved value of a key")
	fs.StringVar(&opts.subset, "subset", "", "Print the resolved entries of a subset")
	fs.StringVar(&opts.writePath, "write", "", "Write the raw entries to a properties file")
	fs.StringVar(&opts.address, "addr", "", "Listen address for -serve, overrides the configuration")
	fs.BoolVar(&opts.serve, "serve", false, "Serve the store over HTTP until interrupted")
	fs.BoolVar(&opts.save, "save", false, "Save the loaded store to the configured backend")
	fs.BoolVar(&opts.restore, "restore", false, "Start from the entries saved in the configured backend")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug mode")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	return fs
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	if err := newFlagSet(opts).Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			opts.showHelp = true
			return opts, nil
		}
		return nil, err
	}
	return opts, nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Usage: cfgstore [options]\n\nOptions:\n")
	fs := newFlagSet(&options{})
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if opts.showHelp {
		printUsage(os.Stdout)
		return
	}
	if opts.showVersion {
		fmt.Printf("%s %s\n", "cfgstore", version)
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    false,
		TimeFormat: "2006-01-02 15:04:05",
	})
	if opts.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Error().Err(err).Msg("cfgstore failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	bootstrap := &config.Config{}
	if opts.configPath != "" {
		var err error
		if bootstrap, err = config.ReadConfig(opts.configPath); err != nil {
			return err
		}
	}
	if len(bootstrap.Sources) == 0 && opts.propertiesPath == "" && !opts.restore {
		return errors.New("nothing to load: set -config with sources, -properties or -restore")
	}

	load := func() (*cfg.Store, error) {
		if opts.save || opts.restore {
			return withBackend(ctx, bootstrap, opts, func(b backend.Backend) (*cfg.Store, error) {
				return loadAndPersist(ctx, bootstrap, opts, b)
			})
		}
		return loadSources(ctx, bootstrap, opts)
	}
	store, err := load()
	if err != nil {
		return err
	}

	if opts.writePath != "" {
		if err := propfile.StoreFile(opts.writePath, store); err != nil {
			return err
		}
		log.Info().Msgf("Configuration written to %s", opts.writePath)
	}

	switch {
	case opts.get != "":
		value, err := store.GetString(opts.get)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, value)
		return err
	case opts.subset != "":
		return printSubset(out, store.Subset(opts.subset))
	case opts.serve:
		return serve(ctx, bootstrap, opts, store, load)
	case opts.writePath == "" && !opts.save:
		return propfile.Write(out, store)
	}
	return nil
}

func loadSources(ctx context.Context, bootstrap *config.Config, opts *options) (*cfg.Store, error) {
	sources := make([]source.Source, 0, len(bootstrap.Sources)+1)
	for _, binding := range bootstrap.Sources {
		log.Debug().Msgf("Configuring %s source of type %s", binding.DisplayName(), binding.TypeName)
		src, err := source.Build(ctx, binding.TypeName, binding.ConfigData)
		if err != nil {
			return nil, errors.Wrapf(err, "source %q", binding.DisplayName())
		}
		sources = append(sources, src)
	}
	if opts.propertiesPath != "" {
		sources = append(sources, &source.PropertiesSource{Path: opts.propertiesPath})
	}
	return source.Load(ctx, sources...)
}

func withBackend(ctx context.Context, bootstrap *config.Config, opts *options, fn func(backend.Backend) (*cfg.Store, error)) (*cfg.Store, error) {
	if bootstrap.Backend == nil {
		return nil, errors.New("-save and -restore need a backend in the configuration file")
	}
	b, err := backend.Build(ctx, bootstrap.Backend.TypeName, bootstrap.Backend.ConfigData)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msgf("Failed to close %s", b.Name())
		}
	}()
	return fn(b)
}

// loadAndPersist restores the saved entries if requested, merges the sources on top and
// saves the result if requested.
func loadAndPersist(ctx context.Context, bootstrap *config.Config, opts *options, b backend.Backend) (*cfg.Store, error) {
	store := cfg.New()
	if opts.restore {
		saved, err := b.Load(ctx)
		if err != nil {
			return nil, err
		}
		if err := store.Merge(saved); err != nil {
			return nil, err
		}
		log.Info().Msgf("Restored %d keys from %s", len(saved.Keys()), b.Name())
	}

	if len(bootstrap.Sources) > 0 || opts.propertiesPath != "" {
		loaded, err := loadSources(ctx, bootstrap, opts)
		if err != nil {
			return nil, err
		}
		if err := store.Merge(loaded); err != nil {
			return nil, err
		}
	}

	if opts.save {
		if err := b.Save(ctx, store); err != nil {
			return nil, err
		}
		log.Info().Msgf("Saved %d keys to %s", len(store.Keys()), b.Name())
	}
	return store, nil
}

func printSubset(out io.Writer, subset *cfg.Store) error {
	values, err := subset.ToMap()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintf(out, "%s=%s\n", key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, bootstrap *config.Config, opts *options, store *cfg.Store, load func() (*cfg.Store, error)) error {
	serverCfg := config.ServerConfig{Address: defaultAddress, Debug: opts.debug}
	if bootstrap.Server != nil {
		serverCfg = *bootstrap.Server
		serverCfg.Debug = serverCfg.Debug || opts.debug
	}
	if opts.address != "" {
		serverCfg.Address = opts.address
	}
	srv := server.NewServer(serverCfg, store)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, srv, load)

	return srv.Run(ctx)
}

// reloadOnSignal replaces the served store with a freshly loaded one on every signal
// until ctx is done. A failed reload keeps the current store.
func reloadOnSignal(ctx context.Context, signals <-chan os.Signal, srv *server.Server, load func() (*cfg.Store, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			log.Info().Msgf("Received %s, reloading configuration", sig)
			store, err := load()
			if err != nil {
				log.Error().Err(err).Msg("Reload failed, keeping the current configuration")
				continue
			}
			srv.Replace(store)
		}
	}
}
