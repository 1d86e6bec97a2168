//go:build unit

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/config"
	"github.com/animalet/sargantana-cfg/pkg/propfile"
	"github.com/animalet/sargantana-cfg/pkg/server"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Command-Line Argument Parsing", func() {
	Describe("parseFlags", func() {
		It("should parse config and debug flags", func() {
			opts, err := parseFlags([]string{"--config", "/path/to/config.yaml", "--debug"})
			Expect(err).NotTo(HaveOccurred())
			Expect(opts.configPath).To(Equal("/path/to/config.yaml"))
			Expect(opts.debug).To(BeTrue())
			Expect(opts.showHelp).To(BeFalse())
		})

		It("should parse the actions", func() {
			opts, err := parseFlags([]string{"-properties", "app.properties", "-get", "db.url", "-subset", "db", "-write", "out.properties", "-serve", "-addr", ":9000", "-save", "-restore"})
			Expect(err).NotTo(HaveOccurred())
			Expect(*opts).To(Equal(options{
				propertiesPath: "app.properties",
				get:            "db.url",
				subset:         "db",
				writePath:      "out.properties",
				address:        ":9000",
				serve:          true,
				save:           true,
				restore:        true,
			}))
		})

		It("should parse version flag", func() {
			opts, err := parseFlags([]string{"--version"})
			Expect(err).NotTo(HaveOccurred())
			Expect(opts.showVersion).To(BeTrue())
		})

		It("should handle -h flag (standard help)", func() {
			opts, err := parseFlags([]string{"-h"})
			Expect(err).NotTo(HaveOccurred())
			Expect(opts.showHelp).To(BeTrue())
		})

		It("should return error for invalid flag", func() {
			_, err := parseFlags([]string{"--invalid-flag"})
			Expect(err).To(HaveOccurred())
		})
	})

	It("should print usage", func() {
		var buf bytes.Buffer
		printUsage(&buf)
		Expect(buf.String()).To(ContainSubstring("Usage: cfgstore"))
		Expect(buf.String()).To(ContainSubstring("-properties"))
		Expect(buf.String()).To(ContainSubstring("-serve"))
	})
})

var _ = Describe("run", func() {
	var (
		ctx        context.Context
		dir        string
		properties string
		out        *bytes.Buffer
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		properties = filepath.Join(dir, "app.properties")
		Expect(os.WriteFile(properties, []byte("db.host=localhost\ndb.port=5432\ndb.url=pg://${db.host}:${db.port}\nname=app\n"), 0o600)).To(Succeed())
		out = &bytes.Buffer{}
	})

	It("should print a resolved value", func() {
		Expect(run(ctx, &options{propertiesPath: properties, get: "db.url"}, out)).To(Succeed())
		Expect(out.String()).To(Equal("pg://localhost:5432\n"))
	})

	It("should fail for a missing key", func() {
		err := run(ctx, &options{propertiesPath: properties, get: "missing"}, out)
		Expect(err).To(MatchError(ContainSubstring(`no value configured for key "missing"`)))
	})

	It("should print a resolved subset", func() {
		Expect(run(ctx, &options{propertiesPath: properties, subset: "db"}, out)).To(Succeed())
		Expect(out.String()).To(Equal("host=localhost\nport=5432\nurl=pg://localhost:5432\n"))
	})

	It("should print the raw store by default", func() {
		Expect(run(ctx, &options{propertiesPath: properties}, out)).To(Succeed())
		Expect(out.String()).To(Equal("db.host=localhost\ndb.port=5432\ndb.url=pg://${db.host}:${db.port}\nname=app\n"))
	})

	It("should write the store to a file", func() {
		target := filepath.Join(dir, "out", "saved.properties")
		Expect(run(ctx, &options{propertiesPath: properties, writePath: target}, out)).To(Succeed())
		Expect(out.String()).To(BeEmpty())
		data, err := os.ReadFile(target)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(HavePrefix("# Saved at "))
		Expect(string(data)).To(ContainSubstring("db.url=pg://${db.host}:${db.port}\n"))
	})

	It("should load the sources of the configuration file in order", func() {
		overrides := filepath.Join(dir, "overrides.yaml")
		Expect(os.WriteFile(overrides, []byte("db:\n  host: db.internal\n"), 0o600)).To(Succeed())
		configFile := filepath.Join(dir, "cfgstore.yaml")
		Expect(os.WriteFile(configFile, []byte(`
sources:
  - type: properties
    config:
      path: `+properties+`
  - type: yaml
    config:
      path: `+overrides+`
`), 0o600)).To(Succeed())

		Expect(run(ctx, &options{configPath: configFile, get: "db.url"}, out)).To(Succeed())
		Expect(out.String()).To(Equal("pg://db.internal:5432\n"))
	})

	It("should report unknown source types", func() {
		configFile := filepath.Join(dir, "cfgstore.yaml")
		Expect(os.WriteFile(configFile, []byte("sources:\n  - type: ldap\n    name: directory\n"), 0o600)).To(Succeed())
		err := run(ctx, &options{configPath: configFile}, out)
		Expect(err).To(MatchError(ContainSubstring(`source "directory"`)))
	})

	It("should fail without anything to load", func() {
		Expect(run(ctx, &options{}, out)).To(MatchError(ContainSubstring("nothing to load")))
	})

	It("should require a backend to save", func() {
		err := run(ctx, &options{propertiesPath: properties, save: true}, out)
		Expect(err).To(MatchError(ContainSubstring("need a backend")))
	})

	It("should fail for a missing configuration file", func() {
		err := run(ctx, &options{configPath: filepath.Join(dir, "missing.yaml")}, out)
		Expect(err).To(MatchError(ContainSubstring("could not be read")))
	})

	It("should serve until the context is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(run(cancelled, &options{propertiesPath: properties, serve: true, address: "127.0.0.1:0"}, out)).To(Succeed())
	})
})

var _ = Describe("reloadOnSignal", func() {
	It("should replace the served store on every signal and keep it on failures", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		path := filepath.Join(GinkgoT().TempDir(), "app.properties")
		Expect(os.WriteFile(path, []byte("name=first\n"), 0o600)).To(Succeed())
		store, err := propfile.LoadFile(path)
		Expect(err).NotTo(HaveOccurred())

		srv := server.NewServer(config.ServerConfig{}, store)
		value := func() string {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/values/name", nil))
			return w.Body.String()
		}

		fail := false
		signals := make(chan os.Signal)
		go reloadOnSignal(ctx, signals, srv, func() (*cfg.Store, error) {
			if fail {
				return nil, errors.New("source unavailable")
			}
			return propfile.LoadFile(path)
		})

		Expect(os.WriteFile(path, []byte("name=second\n"), 0o600)).To(Succeed())
		signals <- syscall.SIGHUP
		Eventually(value).Should(ContainSubstring(`"second"`))

		fail = true
		signals <- syscall.SIGHUP
		// the unbuffered send returns once the previous reload has finished
		signals <- syscall.SIGHUP
		Expect(value()).To(ContainSubstring(`"second"`))
	})
})
