package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-agentpay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const agentCacheKeyPrefix = "agentpay::agent::v1"

// CachedAgentStore serves agent reads for token introspection from a cache.
// Every write through it, or through a transaction of the owning factory,
// drops the cached entries for that agent.
type CachedAgentStore struct {
	base  core.AgentStore
	cache repositorycache.CacheService
}

func NewCachedAgentStore(base core.AgentStore, cacheService repositorycache.CacheService) (*CachedAgentStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base agent store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: agent cache service is required")
	}
	return &CachedAgentStore{base: base, cache: cacheService}, nil
}

// AgentCacheKey returns agentpay::agent::v1::<kind>::<value> with the value
// URL-path escaped.
func AgentCacheKey(kind string, value string) string {
	return strings.Join([]string{agentCacheKeyPrefix, kind, url.PathEscape(strings.TrimSpace(value))}, "::")
}

func (s *CachedAgentStore) Create(ctx context.Context, agent core.Agent) (core.Agent, error) {
	created, err := s.base.Create(ctx, agent)
	if err != nil {
		return core.Agent{}, err
	}
	return created, s.Invalidate(ctx, created.ID, created.ClientID)
}

func (s *CachedAgentStore) Get(ctx context.Context, id string) (core.Agent, error) {
	return repositorycache.GetOrFetch(ctx, s.cache, AgentCacheKey("id", id), func(ctx context.Context) (core.Agent, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedAgentStore) GetByClientID(ctx context.Context, clientID string) (core.Agent, error) {
	return repositorycache.GetOrFetch(ctx, s.cache, AgentCacheKey("client", clientID), func(ctx context.Context) (core.Agent, error) {
		return s.base.GetByClientID(ctx, clientID)
	})
}

func (s *CachedAgentStore) Update(ctx context.Context, agent core.Agent, expected core.AgentStatus) (core.Agent, error) {
	updated, err := s.base.Update(ctx, agent, expected)
	if err != nil {
		return core.Agent{}, err
	}
	return updated, s.Invalidate(ctx, updated.ID, updated.ClientID)
}

func (s *CachedAgentStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if err := s.base.TouchLastUsed(ctx, id, at); err != nil {
		return err
	}
	clientID := ""
	if agent, err := s.base.Get(ctx, id); err == nil {
		clientID = agent.ClientID
	}
	return s.Invalidate(ctx, id, clientID)
}

func (s *CachedAgentStore) Invalidate(ctx context.Context, id string, clientID string) error {
	if s == nil || s.cache == nil {
		return nil
	}
	if strings.TrimSpace(id) != "" {
		if err := s.cache.Delete(ctx, AgentCacheKey("id", id)); err != nil {
			return err
		}
	}
	if strings.TrimSpace(clientID) != "" {
		if err := s.cache.Delete(ctx, AgentCacheKey("client", clientID)); err != nil {
			return err
		}
	}
	return nil
}

// trackingAgentStore records which agents a transaction wrote so the cache
// can be cleared once it commits.
type trackingAgentStore struct {
	core.AgentStore
	touched map[string]string
}

func (s *trackingAgentStore) Create(ctx context.Context, agent core.Agent) (core.Agent, error) {
	created, err := s.AgentStore.Create(ctx, agent)
	if err == nil {
		s.touched[created.ID] = created.ClientID
	}
	return created, err
}

func (s *trackingAgentStore) Update(ctx context.Context, agent core.Agent, expected core.AgentStatus) (core.Agent, error) {
	updated, err := s.AgentStore.Update(ctx, agent, expected)
	if err == nil {
		s.touched[updated.ID] = updated.ClientID
	}
	return updated, err
}

func (s *trackingAgentStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if err := s.AgentStore.TouchLastUsed(ctx, id, at); err != nil {
		return err
	}
	if _, ok := s.touched[id]; !ok {
		s.touched[id] = ""
	}
	return nil
}

var _ core.AgentStore = (*CachedAgentStore)(nil)
