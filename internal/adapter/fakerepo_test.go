package adapter

import (
	"context"

	"github.com/pushi-dev/pushi/internal/app"
)

// fakeRepo is a minimal in-memory app.Repository for adapter tests.
type fakeRepo struct {
	apps          map[string]*app.App
	adapterSubs   map[string][]app.AdapterSub
	personalSubs  []app.PersonalSub
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		apps:        make(map[string]*app.App),
		adapterSubs: make(map[string][]app.AdapterSub),
	}
}

func (f *fakeRepo) CreateApp(ctx context.Context, a *app.App) error {
	f.apps[a.ID] = a
	return nil
}

func (f *fakeRepo) GetApp(ctx context.Context, id string) (*app.App, error) {
	return f.apps[id], nil
}

func (f *fakeRepo) GetAppByKey(ctx context.Context, key string) (*app.App, error) {
	for _, a := range f.apps {
		if a.Key == key {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListApps(ctx context.Context) ([]*app.App, error) {
	var out []*app.App
	for _, a := range f.apps {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeRepo) UpdateApp(ctx context.Context, a *app.App) error {
	f.apps[a.ID] = a
	return nil
}

func (f *fakeRepo) LoadApps(ctx context.Context) ([]*app.App, error) {
	return f.ListApps(ctx)
}

func (f *fakeRepo) LoadPersonalSubs(ctx context.Context) ([]app.PersonalSub, error) {
	return f.personalSubs, nil
}

func (f *fakeRepo) LoadAdapterSubs(ctx context.Context, adapter string) ([]app.AdapterSub, error) {
	return f.adapterSubs[adapter], nil
}

func (f *fakeRepo) AddPersonalSub(ctx context.Context, s app.PersonalSub) error {
	f.personalSubs = append(f.personalSubs, s)
	return nil
}

func (f *fakeRepo) RemovePersonalSub(ctx context.Context, s app.PersonalSub) error {
	return nil
}

func (f *fakeRepo) AddAdapterSub(ctx context.Context, adapter string, s app.AdapterSub) error {
	f.adapterSubs[adapter] = append(f.adapterSubs[adapter], s)
	return nil
}

func (f *fakeRepo) RemoveAdapterSub(ctx context.Context, adapter string, appID, target, event string) error {
	subs := f.adapterSubs[adapter]
	for i, s := range subs {
		if s.AppID == appID && s.Target == target && s.Event == event {
			f.adapterSubs[adapter] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeRepo) AppendEvent(ctx context.Context, rec app.EventRecord, userIDs []string) error {
	return nil
}
