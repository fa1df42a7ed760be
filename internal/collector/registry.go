package collector

import (
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/packeteater/internal/config"
)

const defaultSubmitterTTL = time.Hour

// Submitter is the admission state of one client identity.
type Submitter struct {
	ID          string
	Whitelisted bool
	Banned      bool
}

// Registry remembers the submitters seen recently. An entry is created on
// first contact and expires after the TTL without traffic.
type Registry struct {
	allowRemote bool
	whitelist   map[string]struct{}
	banned      map[string]struct{}
	ttl         time.Duration
	seen        *cache.Cache // id -> Submitter
}

// NewRegistry builds a registry from the collector admission settings.
func NewRegistry(cfg config.CollectorConfig) *Registry {
	ttl := cfg.SubmitterTTL
	if ttl <= 0 {
		ttl = defaultSubmitterTTL
	}
	return &Registry{
		allowRemote: cfg.AllowRemote,
		whitelist:   idSet(cfg.Whitelist),
		banned:      idSet(cfg.Banned),
		ttl:         ttl,
		seen:        cache.New(ttl, ttl/2),
	}
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return set
}

// Lookup returns the submitter for id, registering it when unknown. Local
// submitters are whitelisted on registration.
func (r *Registry) Lookup(id string, local bool) Submitter {
	if v, ok := r.seen.Get(id); ok {
		s := v.(Submitter)
		r.seen.Set(id, s, r.ttl)
		return s
	}

	_, listed := r.whitelist[id]
	_, banned := r.banned[id]
	s := Submitter{
		ID:          id,
		Whitelisted: local || listed || r.allowRemote,
		Banned:      banned,
	}
	r.seen.Set(id, s, r.ttl)

	slog.Info("registered submitter",
		"submitter", shortID(id),
		"local", local,
		"whitelisted", s.Whitelisted,
		"banned", s.Banned)
	return s
}

// Len returns the number of submitters currently remembered.
func (r *Registry) Len() int { return r.seen.ItemCount() }
