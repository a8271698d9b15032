package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"payup/internal/domain"
	"payup/internal/repository"
)

// TemplateCacheTTL bounds how long a template edit can take to reach the dispatcher
// when the invalidation after Upsert is lost.
const TemplateCacheTTL = 60 * time.Second

const templateCachePrefix = "cache:template:"

// TemplateCache is a read-through Redis cache in front of a WebhookTemplateRepository.
type TemplateCache struct {
	client *redis.Client
	repo   repository.WebhookTemplateRepository
	ttl    time.Duration
}

// NewTemplateCache creates a new TemplateCache.
func NewTemplateCache(client *redis.Client, repo repository.WebhookTemplateRepository) *TemplateCache {
	return &TemplateCache{client: client, repo: repo, ttl: TemplateCacheTTL}
}

var _ repository.WebhookTemplateRepository = (*TemplateCache)(nil)

// Get returns the cached template or loads it from the repository.
// Cache errors fall through to the repository.
func (c *TemplateCache) Get(ctx context.Context, appID string, eventType domain.EventType) (*domain.WebhookTemplate, error) {
	key := templateCacheKey(appID, eventType)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var tmpl domain.WebhookTemplate
		if err := json.Unmarshal(data, &tmpl); err == nil {
			return &tmpl, nil
		}
	}

	tmpl, err := c.repo.Get(ctx, appID, eventType)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tmpl); err == nil {
		_ = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	return tmpl, nil
}

// Upsert writes through to the repository and invalidates the cached entry.
func (c *TemplateCache) Upsert(ctx context.Context, tmpl *domain.WebhookTemplate) error {
	if err := c.repo.Upsert(ctx, tmpl); err != nil {
		return err
	}
	return c.Invalidate(ctx, tmpl.AppID, tmpl.EventType)
}

// Invalidate removes a template from cache.
func (c *TemplateCache) Invalidate(ctx context.Context, appID string, eventType domain.EventType) error {
	return c.client.Del(ctx, templateCacheKey(appID, eventType)).Err()
}

func templateCacheKey(appID string, eventType domain.EventType) string {
	return templateCachePrefix + appID + ":" + string(eventType)
}
