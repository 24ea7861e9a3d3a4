package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"boss-battle-service/internal/domain"
)

// TemplateLoader fetches battle templates from the backing store.
type TemplateLoader interface {
	LoadTemplate(ctx context.Context, templateID string) (domain.BattleTemplate, error)
}

// TemplateRepository caches full templates as JSON strings in Redis and falls
// back to a loader on cache miss. Concurrent misses for the same template are
// collapsed through singleflight so the backing store sees one load.
type TemplateRepository struct {
	client *redis.Client
	loader TemplateLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTemplateRepository(client *redis.Client, loader TemplateLoader, ttl time.Duration) *TemplateRepository {
	return &TemplateRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, templateID string) (domain.BattleTemplate, error) {
	key := r.key(templateID)

	if template, ok := r.fromCache(ctx, key); ok {
		return template, nil
	}

	result, err, _ := r.sf.Do(templateID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if template, ok := r.fromCache(ctx, key); ok {
			return template, nil
		}

		template, err := r.loader.LoadTemplate(ctx, templateID)
		if err != nil {
			return domain.BattleTemplate{}, err
		}

		data, err := json.Marshal(template)
		if err != nil {
			return domain.BattleTemplate{}, fmt.Errorf("marshal template: %w", err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()

		return template, nil
	})
	if err != nil {
		return domain.BattleTemplate{}, err
	}
	return result.(domain.BattleTemplate), nil
}

func (r *TemplateRepository) fromCache(ctx context.Context, key string) (domain.BattleTemplate, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.BattleTemplate{}, false
	}
	var template domain.BattleTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return domain.BattleTemplate{}, false
	}
	return template, true
}

func (r *TemplateRepository) key(templateID string) string {
	return "template:" + templateID
}

func (r *TemplateRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
