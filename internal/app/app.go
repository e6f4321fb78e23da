// Package app defines the tenant identity record and the storage interface
// the broker depends on to load and persist it.
//
// The broker never touches SQL, Redis, or any other storage primitive
// directly: every component that needs durable state takes a Repository.
// internal/db provides the concrete PostgreSQL-backed implementation.
package app

import "context"

// App is a tenant identity record (spec section 3, "App").
type App struct {
	ID     string
	Key    string
	Secret string
	Name   string

	// Adapter credentials. All optional; an adapter that needs one and
	// does not find it on the App delivers nothing for that send (mobile
	// and Web Push report a failed Result, email logs a warning).
	SMTPURL      string
	APNKey       string
	APNCert      string
	VapidKey     string
	VapidPublic  string
	VapidEmail   string
}

// PersonalSub is a subs_personal row: a personal-channel alias entry.
type PersonalSub struct {
	AppID  string
	UserID string
	Event  string
}

// AdapterSub is one subs_<adapter> row. Extras carries adapter-specific
// columns (e.g. Web Push's p256dh/auth keys) as a flat string map so the
// Repository interface does not need one method per adapter kind.
type AdapterSub struct {
	AppID  string
	Target string
	Event  string
	Extras map[string]string
}

// EventRecord is one row in the optional event log (spec section 6).
type EventRecord struct {
	MID       string
	AppID     string
	Channel   string
	OwnerID   string
	Timestamp int64
	Data      string
}

// Repository is the persistence boundary the broker and the built-in
// adapters depend on. All methods must be safe for concurrent use.
//
// Reads at startup (LoadApps, LoadPersonalSubs, LoadAdapterSubs) are
// eager: a failure here aborts startup per spec section 4.8, since the
// broker cannot safely serve traffic without knowing which apps exist.
type Repository interface {
	// App CRUD, used by the HTTP control plane (C8).
	CreateApp(ctx context.Context, a *App) error
	GetApp(ctx context.Context, id string) (*App, error)
	GetAppByKey(ctx context.Context, key string) (*App, error)
	ListApps(ctx context.Context) ([]*App, error)
	UpdateApp(ctx context.Context, a *App) error

	// Startup read-through.
	LoadApps(ctx context.Context) ([]*App, error)
	LoadPersonalSubs(ctx context.Context) ([]PersonalSub, error)
	LoadAdapterSubs(ctx context.Context, adapter string) ([]AdapterSub, error)

	// Personal-channel alias mutation (spec section 4.2, "AliasMap updates").
	AddPersonalSub(ctx context.Context, s PersonalSub) error
	RemovePersonalSub(ctx context.Context, s PersonalSub) error

	// Adapter subscription mutation, keyed by adapter name ("mobile",
	// "webhook", "email", "web_push").
	AddAdapterSub(ctx context.Context, adapter string, s AdapterSub) error
	RemoveAdapterSub(ctx context.Context, adapter string, appID, target, event string) error

	// Event log (best-effort; failures here never block live fan-out).
	AppendEvent(ctx context.Context, rec EventRecord, userIDs []string) error
}
