package adapter

import (
	"context"
	"fmt"

	apns2 "github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"

	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
)

// Mobile delivers events as Apple Push Notifications. Each App supplies its
// own PEM-encoded certificate/key pair (apn_cer, apn_key); a client is built
// and cached per App on first send.
type Mobile struct {
	*index
	getApp func(ctx context.Context, appID string) (*app.App, error)

	clients map[string]*apns2.Client
}

// NewMobile creates the mobile push adapter.
func NewMobile(repo app.Repository, aliases *alias.Map, getApp func(ctx context.Context, appID string) (*app.App, error)) *Mobile {
	return &Mobile{
		index:   newIndex("mobile", repo, aliases),
		getApp:  getApp,
		clients: make(map[string]*apns2.Client),
	}
}

func (m *Mobile) clientFor(appID string, a *app.App) (*apns2.Client, error) {
	if c, ok := m.clients[appID]; ok {
		return c, nil
	}
	if a.APNCert == "" || a.APNKey == "" {
		return nil, fmt.Errorf("app %s has no APN certificate/key configured", appID)
	}

	cert, err := certificate.FromPemBytes([]byte(a.APNCert+a.APNKey), "")
	if err != nil {
		return nil, fmt.Errorf("parse APN certificate: %w", err)
	}

	client := apns2.NewClient(cert).Production()
	m.clients[appID] = client
	return client, nil
}

func (m *Mobile) Send(ctx context.Context, appID, channel string, env Envelope) []Result {
	targets := m.targetsFor(appID, channel)
	if len(targets) == 0 {
		return nil
	}

	a, err := m.getApp(ctx, appID)
	if err != nil {
		return []Result{{Err: fmt.Errorf("app lookup failed: %w", err)}}
	}

	client, err := m.clientFor(appID, a)
	if err != nil {
		return []Result{{Err: err}}
	}

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		notification := &apns2.Notification{
			DeviceToken: t.Target,
			Payload:     []byte(env.Data),
		}
		res, err := client.PushWithContext(ctx, notification)
		if err == nil && !res.Sent() {
			err = fmt.Errorf("apn rejected: %s (%s)", res.Reason, res.ApnsID)
		}
		results = append(results, Result{Target: t.Target, Err: err})

		if err != nil && (res != nil && (res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered)) {
			_ = m.Unsubscribe(ctx, appID, t.Target, channel)
		}
	}
	logFailures(m.Name(), results)
	return results
}
