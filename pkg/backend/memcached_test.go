//go:build unit

package backend_test

import (
	"context"

	"github.com/animalet/sargantana-cfg/pkg/backend"
	"github.com/animalet/sargantana-cfg/pkg/cfg"
	"github.com/bradfitz/gomemcache/memcache"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

type fakeMemcache struct {
	items map[string]*memcache.Item
	err   error
}

func (f *fakeMemcache) Get(key string) (*memcache.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (f *fakeMemcache) Set(item *memcache.Item) error {
	if f.err != nil {
		return f.err
	}
	f.items[item.Key] = item
	return nil
}

func (f *fakeMemcache) Close() error { return nil }

var _ = Describe("MemcachedBackend", func() {
	var (
		ctx  context.Context
		fake *fakeMemcache
		b    *backend.MemcachedBackend
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeMemcache{items: map[string]*memcache.Item{}}
		b = backend.NewMemcachedBackend(fake, "")
	})

	It("should save the store as a properties document", func() {
		store := cfg.New()
		store.Put("b", "${a}")
		store.Put("a", "1")

		Expect(b.Save(ctx, store)).To(Succeed())
		Expect(fake.items).To(HaveKey("cfg"))
		Expect(string(fake.items["cfg"].Value)).To(Equal("a=1\nb=${a}\n"))
		Expect(fake.items["cfg"].Expiration).To(BeZero())
	})

	It("should round-trip the entries", func() {
		store := cfg.New()
		store.Put("db.host", "localhost")
		store.Put("db.url", "pg://${db.host}")
		store.Put("spaces", "  leading")
		store.PutNull("empty")
		Expect(b.Save(ctx, store)).To(Succeed())

		loaded, err := b.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Keys()).To(Equal([]string{"db.host", "db.url", "empty", "spaces"}))
		Expect(loaded.GetString("db.url")).To(Equal("pg://localhost"))
		Expect(loaded.GetString("spaces")).To(Equal("  leading"))
		Expect(loaded.ContainsValue("empty")).To(BeFalse())
	})

	It("should load an empty store on a cache miss", func() {
		loaded, err := b.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.ContainsKeys()).To(BeFalse())
	})

	It("should refuse to save a subset", func() {
		store := cfg.New()
		store.Put("a.b", "1")
		Expect(errors.Is(b.Save(ctx, store.Subset("a")), cfg.ErrInvalidOperation)).To(BeTrue())
		Expect(fake.items).To(BeEmpty())
	})

	It("should report server errors", func() {
		fake.err = memcache.ErrServerError
		_, err := b.Load(ctx)
		Expect(err).To(MatchError(ContainSubstring(`failed to load configuration from Memcached key "cfg"`)))
		Expect(b.Save(ctx, cfg.New())).To(MatchError(ContainSubstring("failed to save configuration")))
	})

	It("should use a custom key", func() {
		custom := backend.NewMemcachedBackend(fake, "app")
		Expect(custom.Name()).To(Equal("Memcached key app"))
		Expect(custom.Save(ctx, cfg.New())).To(Succeed())
		Expect(fake.items).To(HaveKey("app"))
		Expect(custom.Close()).To(Succeed())
	})
})
