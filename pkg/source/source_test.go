//go:build unit

package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing/fstest"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/source"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

type staticSource struct {
	name  string
	pairs []cfg.Pair
	err   error
}

func (s staticSource) Pairs(context.Context) ([]cfg.Pair, error) { return s.pairs, s.err }
func (s staticSource) Name() string                              { return s.name }

var _ = Describe("Load", func() {
	ctx := context.Background()

	It("should merge sources in order", func() {
		first := staticSource{name: "first", pairs: []cfg.Pair{
			{Key: "a", Value: cfg.Ptr("1")},
			{Key: "b", Value: cfg.Ptr("1")},
		}}
		second := staticSource{name: "second", pairs: []cfg.Pair{
			{Key: "b", Value: cfg.Ptr("2")},
			{Key: "c"},
		}}

		store, err := source.Load(ctx, first, second)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Keys()).To(Equal([]string{"a", "b", "c"}))
		Expect(store.GetString("b")).To(Equal("2"))
		Expect(store.ContainsKey("c")).To(BeTrue())
		Expect(store.IsSubset()).To(BeFalse())
	})

	It("should return an empty store without sources", func() {
		store, err := source.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.ContainsKeys()).To(BeFalse())
	})

	It("should name the failing source", func() {
		broken := staticSource{name: "broken", err: errors.New("boom")}
		_, err := source.Load(ctx, broken)
		Expect(err).To(MatchError(ContainSubstring("broken")))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})
})

var _ = Describe("Registry", func() {
	ctx := context.Background()

	It("should register the built-in source types", func() {
		Expect(source.Types()).To(ContainElements("aws", "env", "properties", "toml", "vault", "yaml"))
	})

	It("should register and unregister custom types", func() {
		source.Register("static", func(context.Context, []byte) (source.Source, error) {
			return staticSource{name: "static"}, nil
		})
		DeferCleanup(source.Unregister, "static")

		src, err := source.Build(ctx, "static", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Name()).To(Equal("static"))

		source.Unregister("static")
		Expect(source.Types()).NotTo(ContainElement("static"))
	})

	It("should fail for unknown types", func() {
		_, err := source.Build(ctx, "nope", nil)
		Expect(err).To(MatchError(ContainSubstring(`no source registered for type "nope"`)))
	})

	It("should validate the configuration block", func() {
		_, err := source.Build(ctx, "properties", []byte("path: \"\""))
		Expect(err).To(MatchError(ContainSubstring("properties path is required")))

		_, err = source.Build(ctx, "vault", []byte("address: http://localhost:8200"))
		Expect(err).To(MatchError(ContainSubstring("Vault token is required")))
	})

	It("should reject malformed configuration blocks", func() {
		_, err := source.Build(ctx, "yaml", []byte("path: [unclosed"))
		Expect(err).To(MatchError(ContainSubstring("invalid source configuration")))
	})

	It("should build from the zero configuration when the block is absent", func() {
		src, err := source.Build(ctx, "env", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(BeAssignableToTypeOf(&source.EnvSource{}))

		_, err = source.Build(ctx, "properties", nil)
		Expect(err).To(MatchError(ContainSubstring("config is invalid")))
		Expect(err).To(MatchError(ContainSubstring("properties path is required")))
	})

	It("should build a working properties source", func() {
		path := filepath.Join(GinkgoT().TempDir(), "app.properties")
		Expect(os.WriteFile(path, []byte("a=1\nb=${a}\n"), 0o600)).To(Succeed())

		src, err := source.Build(ctx, "properties", []byte("path: "+path))
		Expect(err).NotTo(HaveOccurred())

		store, err := source.Load(ctx, src)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.GetString("b")).To(Equal("1"))
	})
})

var _ = Describe("PropertiesSource", func() {
	It("should prefer the embedded file system", func() {
		src := &source.PropertiesSource{
			Path: "/conf/app.properties",
			FS:   fstest.MapFS{"conf/app.properties": {Data: []byte("x=embedded")}},
		}
		pairs, err := src.Pairs(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pairs).To(HaveLen(1))
		Expect(*pairs[0].Value).To(Equal("embedded"))
		Expect(src.Name()).To(Equal("properties file /conf/app.properties"))
	})

	It("should fail for a missing file", func() {
		src := &source.PropertiesSource{Path: filepath.Join(GinkgoT().TempDir(), "missing.properties")}
		_, err := src.Pairs(context.Background())
		Expect(err).To(MatchError(ContainSubstring("does not exist")))
	})
})
