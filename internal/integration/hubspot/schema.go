package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

// DefaultSchemaTTL bounds how long a property schema is trusted within a long running process
const DefaultSchemaTTL = time.Hour

// schemaCache memoizes the property names of each object type
type schemaCache struct {
	cache *goCache.Cache
}

func newSchemaCache(ttl time.Duration) *schemaCache {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &schemaCache{cache: goCache.New(ttl, 2*ttl)}
}

func (s *schemaCache) get(objectType ObjectType) (map[string]bool, bool) {
	v, ok := s.cache.Get(string(objectType))
	if !ok {
		return nil, false
	}
	return v.(map[string]bool), true
}

func (s *schemaCache) set(objectType ObjectType, names map[string]bool) {
	s.cache.SetDefault(string(objectType), names)
}

// GetProperties returns the set of property names defined on an object type
func (c *Client) GetProperties(ctx context.Context, objectType ObjectType) (map[string]bool, error) {
	if names, ok := c.schema.get(objectType); ok {
		return names, nil
	}

	var resp PropertiesResponse
	path := fmt.Sprintf("/crm/v3/properties/%s", objectType)
	if err := c.do(ctx, fmt.Sprintf("get %s properties", objectType), http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(resp.Results))
	for _, p := range resp.Results {
		if !p.Archived {
			names[p.Name] = true
		}
	}
	c.schema.set(objectType, names)
	return names, nil
}

// InvalidateSchema forgets every cached schema; the next call re-fetches it
func (c *Client) InvalidateSchema() {
	c.schema.cache.Flush()
}

// knownProperties drops names missing from the schema. When the schema cannot be
// fetched the list is returned as is.
func (c *Client) knownProperties(ctx context.Context, objectType ObjectType, properties []string) []string {
	if len(properties) == 0 {
		return properties
	}
	names, err := c.GetProperties(ctx, objectType)
	if err != nil {
		c.logger.Warnw("property schema unavailable, sending properties unfiltered",
			"object_type", objectType,
			"error", err)
		return properties
	}

	out := make([]string, 0, len(properties))
	for _, p := range properties {
		if names[p] {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) knownPropertyValues(ctx context.Context, objectType ObjectType, properties map[string]string) map[string]string {
	if len(properties) == 0 {
		return properties
	}
	names, err := c.GetProperties(ctx, objectType)
	if err != nil {
		c.logger.Warnw("property schema unavailable, sending properties unfiltered",
			"object_type", objectType,
			"error", err)
		return properties
	}

	out := make(map[string]string, len(properties))
	for k, v := range properties {
		if names[k] {
			out[k] = v
			continue
		}
		c.logger.Debugw("dropping property missing from schema",
			"object_type", objectType,
			"property", k)
	}
	return out
}
