package roadmap

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/ksred/skyline-api/internal/gateway"
)

// Cache holds generated documents for a while so repeated requests for the
// same domain and role do not reach the provider.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func NewCache(numCounters, maxCost int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func cacheKey(domain, role string) string {
	return strings.ToLower(strings.Join(strings.Fields(domain), " ")) + "|" +
		strings.ToLower(strings.Join(strings.Fields(role), " "))
}

func (c *Cache) Get(domain, role string) (gateway.RoadmapDocument, bool) {
	v, ok := c.c.Get(cacheKey(domain, role))
	if !ok {
		return gateway.RoadmapDocument{}, false
	}
	doc, ok := v.(gateway.RoadmapDocument)
	return doc, ok
}

func (c *Cache) Set(domain, role string, doc gateway.RoadmapDocument) {
	c.c.SetWithTTL(cacheKey(domain, role), doc, 1, c.ttl)
	// sets are buffered; make the entry visible to the next Get
	c.c.Wait()
}

func (c *Cache) Close() {
	c.c.Close()
}
