// Package adapter implements the out-of-band delivery plugins: mobile push,
// webhook, email, and Web Push. Each adapter owns its own in-memory
// subscription index (app_id -> event -> target) mirrored from the
// Repository, and resolves alias channels before fanning out so a target
// subscribed under more than one aliased channel name is never delivered
// to twice.
package adapter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/logger"
)

// Envelope is the event payload handed to an adapter for delivery.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Subject string          `json:"-"`
	Body    string          `json:"-"`
}

// Result reports the outcome of one delivery attempt against one target.
type Result struct {
	Target string
	Err    error
}

// Adapter is implemented by every delivery plugin.
type Adapter interface {
	Name() string
	Send(ctx context.Context, appID, channel string, env Envelope) []Result
	Subscribe(ctx context.Context, sub app.AdapterSub) error
	Unsubscribe(ctx context.Context, appID, target, event string) error
	List(appID string) []app.AdapterSub
	Load(ctx context.Context) error
}

// index is the common app_id -> event -> target -> subscription map shared
// by every adapter, backed by the Repository for durability.
type index struct {
	name  string
	repo  app.Repository
	alias *alias.Map

	mu   sync.RWMutex
	subs map[string]map[string]map[string]app.AdapterSub
}

func newIndex(name string, repo app.Repository, aliases *alias.Map) *index {
	return &index{
		name:  name,
		repo:  repo,
		alias: aliases,
		subs:  make(map[string]map[string]map[string]app.AdapterSub),
	}
}

func (x *index) Name() string { return x.name }

// Load rebuilds the in-memory index from the Repository at startup.
func (x *index) Load(ctx context.Context) error {
	subs, err := x.repo.LoadAdapterSubs(ctx, x.name)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.subs = make(map[string]map[string]map[string]app.AdapterSub)
	for _, s := range subs {
		x.addLocked(s)
	}
	return nil
}

func (x *index) addLocked(s app.AdapterSub) {
	byEvent, ok := x.subs[s.AppID]
	if !ok {
		byEvent = make(map[string]map[string]app.AdapterSub)
		x.subs[s.AppID] = byEvent
	}
	byTarget, ok := byEvent[s.Event]
	if !ok {
		byTarget = make(map[string]app.AdapterSub)
		byEvent[s.Event] = byTarget
	}
	byTarget[s.Target] = s
}

func (x *index) Subscribe(ctx context.Context, sub app.AdapterSub) error {
	if err := x.repo.AddAdapterSub(ctx, x.name, sub); err != nil {
		return err
	}
	x.mu.Lock()
	x.addLocked(sub)
	x.mu.Unlock()
	return nil
}

func (x *index) Unsubscribe(ctx context.Context, appID, target, event string) error {
	if err := x.repo.RemoveAdapterSub(ctx, x.name, appID, target, event); err != nil {
		return err
	}
	x.mu.Lock()
	if byEvent, ok := x.subs[appID]; ok {
		if byTarget, ok := byEvent[event]; ok {
			delete(byTarget, target)
		}
	}
	x.mu.Unlock()
	return nil
}

func (x *index) List(appID string) []app.AdapterSub {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []app.AdapterSub
	for _, byTarget := range x.subs[appID] {
		for _, s := range byTarget {
			out = append(out, s)
		}
	}
	return out
}

// targetsFor resolves channel plus every alias of channel, unions the
// target sets and deduplicates by target. Subscriptions are recorded
// against a channel name (the "event" of the (app_id, event, target)
// record in spec terms); a personal channel's alias list is the set of
// concrete channels its owner is actually subscribed under, so this is
// the step that lets a personal-channel publish reach every adapter
// target registered on any of those concrete channels exactly once.
func (x *index) targetsFor(appID, channel string) []app.AdapterSub {
	channels := append([]string{channel}, x.alias.Get(channel)...)

	x.mu.RLock()
	defer x.mu.RUnlock()

	byChannel, ok := x.subs[appID]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []app.AdapterSub
	for _, ch := range channels {
		for target, sub := range byChannel[ch] {
			if seen[target] {
				continue
			}
			seen[target] = true
			out = append(out, sub)
		}
	}
	return out
}

func logFailures(adapterName string, results []Result) {
	for _, r := range results {
		if r.Err != nil {
			logger.Adapter().Error().Err(r.Err).Str("adapter", adapterName).Str("target", r.Target).Msg("delivery failed")
		}
	}
}
