package broker

import (
	"context"

	"github.com/pushi-dev/pushi/internal/app"
)

// fakeRepo is a minimal in-memory app.Repository for broker tests.
type fakeRepo struct {
	apps         []*app.App
	personalSubs []app.PersonalSub
	events       []app.EventRecord
}

func (f *fakeRepo) CreateApp(ctx context.Context, a *app.App) error { f.apps = append(f.apps, a); return nil }

func (f *fakeRepo) GetApp(ctx context.Context, id string) (*app.App, error) {
	for _, a := range f.apps {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetAppByKey(ctx context.Context, key string) (*app.App, error) {
	for _, a := range f.apps {
		if a.Key == key {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListApps(ctx context.Context) ([]*app.App, error) { return f.apps, nil }

func (f *fakeRepo) UpdateApp(ctx context.Context, a *app.App) error { return nil }

func (f *fakeRepo) LoadApps(ctx context.Context) ([]*app.App, error) { return f.apps, nil }

func (f *fakeRepo) LoadPersonalSubs(ctx context.Context) ([]app.PersonalSub, error) {
	return f.personalSubs, nil
}

func (f *fakeRepo) LoadAdapterSubs(ctx context.Context, adapter string) ([]app.AdapterSub, error) {
	return nil, nil
}

func (f *fakeRepo) AddPersonalSub(ctx context.Context, s app.PersonalSub) error {
	f.personalSubs = append(f.personalSubs, s)
	return nil
}

func (f *fakeRepo) RemovePersonalSub(ctx context.Context, s app.PersonalSub) error { return nil }

func (f *fakeRepo) AddAdapterSub(ctx context.Context, adapter string, s app.AdapterSub) error {
	return nil
}

func (f *fakeRepo) RemoveAdapterSub(ctx context.Context, adapter string, appID, target, event string) error {
	return nil
}

func (f *fakeRepo) AppendEvent(ctx context.Context, rec app.EventRecord, userIDs []string) error {
	f.events = append(f.events, rec)
	return nil
}
