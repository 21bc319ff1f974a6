package ayon

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/richinsley/comfy2ayon/logger"
)

// CachedService puts a read-through cache in front of the lookups that do not change
// during a session: projects, folders, tasks, product types and bundle settings.
// Writes and product/version reads go straight to the wrapped Service.
type CachedService struct {
	Service
	cache *gocache.Cache
	ttl   time.Duration
	log   logger.Logger
}

var _ Service = (*CachedService)(nil)

// NewCachedService wraps svc. A zero ttl uses go-cache's default of never expiring.
func NewCachedService(svc Service, ttl, cleanup time.Duration, log logger.Logger) *CachedService {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	exp := ttl
	if exp <= 0 {
		exp = gocache.NoExpiration
	}
	return &CachedService{
		Service: svc,
		cache:   gocache.New(exp, cleanup),
		ttl:     exp,
		log:     log,
	}
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// readThrough returns the cached value for key or calls fn and caches its result.
// Errors are never cached.
func readThrough[V any](c *CachedService, key string, fn func() (V, error)) (V, error) {
	if v, ok := c.cache.Get(key); ok {
		if typed, ok := v.(V); ok {
			c.log.Debug("cache hit", map[string]interface{}{"key": strings.ReplaceAll(key, "\x00", "/")})
			return typed, nil
		}
		c.log.Error("wrong type in cache", map[string]interface{}{"key": strings.ReplaceAll(key, "\x00", "/")})
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.cache.Set(key, v, c.ttl)
	return v, nil
}

func (c *CachedService) GetProject(ctx context.Context, project string) (*Project, error) {
	return readThrough(c, cacheKey("project", project), func() (*Project, error) {
		return c.Service.GetProject(ctx, project)
	})
}

func (c *CachedService) GetFolders(ctx context.Context, project string) ([]Folder, error) {
	return readThrough(c, cacheKey("folders", project), func() ([]Folder, error) {
		return c.Service.GetFolders(ctx, project)
	})
}

func (c *CachedService) GetFolderByPath(ctx context.Context, project, folderPath string) (*Folder, error) {
	return readThrough(c, cacheKey("folder", project, folderPath), func() (*Folder, error) {
		return c.Service.GetFolderByPath(ctx, project, folderPath)
	})
}

func (c *CachedService) GetTasksByFolderPath(ctx context.Context, project, folderPath string) ([]Task, error) {
	return readThrough(c, cacheKey("tasks", project, folderPath), func() ([]Task, error) {
		return c.Service.GetTasksByFolderPath(ctx, project, folderPath)
	})
}

func (c *CachedService) GetTaskByFolderPath(ctx context.Context, project, folderPath, taskName string) (*Task, error) {
	return readThrough(c, cacheKey("task", project, folderPath, taskName), func() (*Task, error) {
		return c.Service.GetTaskByFolderPath(ctx, project, folderPath, taskName)
	})
}

func (c *CachedService) GetProductTypes(ctx context.Context, project string) ([]string, error) {
	return readThrough(c, cacheKey("product-types", project), func() ([]string, error) {
		return c.Service.GetProductTypes(ctx, project)
	})
}

func (c *CachedService) GetBundleSettings(ctx context.Context, bundle, project string) (map[string]map[string]any, error) {
	return readThrough(c, cacheKey("bundle", bundle, project), func() (map[string]map[string]any, error) {
		return c.Service.GetBundleSettings(ctx, bundle, project)
	})
}

// Flush drops every cached entry.
func (c *CachedService) Flush() {
	c.cache.Flush()
}
