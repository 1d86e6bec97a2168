//go:build unit

package source_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/animalet/sargantana-cfg/pkg/source"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Document sources", func() {
	ctx := context.Background()

	Context("YAMLSource", func() {
		It("should flatten nested maps into dotted keys", func() {
			src := &source.YAMLSource{Data: []byte(`
db:
  host: localhost
  port: 5432
  replicas: [a, b, c]
  password: ${secret}
feature:
  enabled: true
empty:
secret: s3cr3t
`)}
			pairs, err := src.Pairs(ctx)
			Expect(err).NotTo(HaveOccurred())

			store := cfg.FromPairs(pairs)
			Expect(store.Keys()).To(Equal([]string{
				"db.host", "db.password", "db.port", "db.replicas", "empty", "feature.enabled", "secret",
			}))
			db := store.Subset("db")
			Expect(db.GetString("host")).To(Equal("localhost"))
			Expect(db.GetInt("port")).To(Equal(5432))
			Expect(db.GetStrings("replicas")).To(Equal([]string{"a", "b", "c"}))
			Expect(db.GetString("password")).To(Equal("s3cr3t"))
			Expect(store.GetBool("feature.enabled")).To(BeTrue())
			Expect(store.ContainsKey("empty")).To(BeTrue())
			Expect(store.ContainsValue("empty")).To(BeFalse())
		})

		It("should return keys in sorted order", func() {
			src := &source.YAMLSource{Data: []byte("z: 1\na: 2\nm:\n  b: 3\n")}
			pairs, err := src.Pairs(ctx)
			Expect(err).NotTo(HaveOccurred())
			keys := make([]string, 0, len(pairs))
			for _, p := range pairs {
				keys = append(keys, p.Key)
			}
			Expect(keys).To(Equal([]string{"a", "m.b", "z"}))
		})

		It("should reject lists of objects", func() {
			src := &source.YAMLSource{Data: []byte("servers:\n  - host: a\n")}
			_, err := src.Pairs(ctx)
			Expect(err).To(MatchError(ContainSubstring(`key "servers"`)))
		})

		DescribeTable("should reject list elements holding an array delimiter",
			func(document string) {
				src := &source.YAMLSource{Data: []byte(document)}
				_, err := src.Pairs(ctx)
				Expect(err).To(MatchError(cfg.ErrInvalidValue))
				Expect(err).To(MatchError(ContainSubstring(`key "hosts"`)))
			},
			Entry("colon", `hosts: ["a:8080", "b:9090"]`),
			Entry("comma", `hosts: ["a,b"]`),
			Entry("semicolon", "hosts:\n  - a;b\n"),
		)

		It("should reject malformed documents", func() {
			src := &source.YAMLSource{Data: []byte("a: [")}
			_, err := src.Pairs(ctx)
			Expect(err).To(MatchError(ContainSubstring("invalid YAML document")))
		})

		It("should accept an empty document", func() {
			src := &source.YAMLSource{Data: []byte("")}
			pairs, err := src.Pairs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pairs).To(BeEmpty())
		})

		It("should read the document from a file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "app.yaml")
			Expect(os.WriteFile(path, []byte("a:\n  b: c\n"), 0o600)).To(Succeed())

			src, err := source.Build(ctx, "yaml", []byte("path: "+path))
			Expect(err).NotTo(HaveOccurred())
			Expect(src.Name()).To(Equal("YAML document " + path))

			store, err := source.Load(ctx, src)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.GetString("a.b")).To(Equal("c"))
		})

		It("should fail for a missing file", func() {
			src := &source.YAMLSource{Path: filepath.Join(GinkgoT().TempDir(), "missing.yaml")}
			_, err := src.Pairs(ctx)
			Expect(err).To(MatchError(ContainSubstring("could not be opened")))
		})
	})

	Context("TOMLSource", func() {
		It("should flatten tables into dotted keys", func() {
			src := &source.TOMLSource{Data: []byte(`
name = "app"

[db]
host = "localhost"
port = 5432
ratio = 0.25
replicas = ["a", "b"]

[db.pool]
size = 10
`)}
			pairs, err := src.Pairs(ctx)
			Expect(err).NotTo(HaveOccurred())

			store := cfg.FromPairs(pairs)
			Expect(store.Keys()).To(Equal([]string{
				"db.host", "db.pool.size", "db.port", "db.ratio", "db.replicas", "name",
			}))
			Expect(store.GetString("name")).To(Equal("app"))
			Expect(store.GetInt64("db.port")).To(Equal(int64(5432)))
			Expect(store.GetString("db.ratio")).To(Equal("0.25"))
			Expect(store.GetStrings("db.replicas")).To(Equal([]string{"a", "b"}))
			Expect(store.Subset("db").Subset("pool").GetInt("size")).To(Equal(10))
		})

		It("should reject arrays of tables", func() {
			src := &source.TOMLSource{Data: []byte("[[servers]]\nhost = \"a\"\n")}
			_, err := src.Pairs(ctx)
			Expect(err).To(MatchError(ContainSubstring("lists of objects are not supported")))
		})

		It("should reject malformed documents", func() {
			src := &source.TOMLSource{Data: []byte("a = ")}
			_, err := src.Pairs(ctx)
			Expect(err).To(MatchError(ContainSubstring("invalid TOML document")))
			Expect(src.Name()).To(Equal("TOML document"))
		})
	})
})
