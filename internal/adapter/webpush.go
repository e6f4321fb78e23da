package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
)

// WebPush delivers events as encrypted Web Push messages (RFC 8030) using
// per-App VAPID credentials. A 404/410 response from the push service
// means the subscription is gone and is removed from the index.
type WebPush struct {
	*index
	getApp func(ctx context.Context, appID string) (*app.App, error)
}

// NewWebPush creates the Web Push adapter.
func NewWebPush(repo app.Repository, aliases *alias.Map, getApp func(ctx context.Context, appID string) (*app.App, error)) *WebPush {
	return &WebPush{
		index:  newIndex("web_push", repo, aliases),
		getApp: getApp,
	}
}

func (wp *WebPush) Send(ctx context.Context, appID, channel string, env Envelope) []Result {
	targets := wp.targetsFor(appID, channel)
	if len(targets) == 0 {
		return nil
	}

	a, err := wp.getApp(ctx, appID)
	if err != nil {
		return []Result{{Err: fmt.Errorf("app lookup failed: %w", err)}}
	}
	if a.VapidKey == "" || a.VapidPublic == "" || a.VapidEmail == "" {
		return []Result{{Err: fmt.Errorf("app %s has no VAPID key pair/email configured", appID)}}
	}

	opts := &webpush.Options{
		Subscriber:      "mailto:" + a.VapidEmail,
		VAPIDPublicKey:  a.VapidPublic,
		VAPIDPrivateKey: a.VapidKey,
		TTL:             30,
	}

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		sub := &webpush.Subscription{
			Endpoint: t.Target,
			Keys: webpush.Keys{
				P256dh: t.Extras["p256dh"],
				Auth:   t.Extras["auth"],
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, extractPushPayload(env.Data), sub, opts)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
				err = fmt.Errorf("subscription gone (status %d)", resp.StatusCode)
				_ = wp.Unsubscribe(ctx, appID, t.Target, channel)
			} else if resp.StatusCode >= 300 {
				err = fmt.Errorf("push service returned status %d", resp.StatusCode)
			}
		}
		results = append(results, Result{Target: t.Target, Err: err})
	}
	logFailures(wp.Name(), results)
	return results
}

// extractPushPayload mirrors web_push.py's key-fallback chain: a push
// payload can carry its actual notification body nested under "data",
// "push", "web_push", or "message", each later key overriding an earlier
// one if present. When none of those keys are found, raw is used as the
// payload unchanged. A string-typed value is sent as-is rather than
// re-quoted as JSON.
func extractPushPayload(raw []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	var message json.RawMessage
	found := false
	for _, key := range []string{"data", "push", "web_push", "message"} {
		if v, ok := obj[key]; ok {
			message = v
			found = true
		}
	}
	if !found {
		return raw
	}

	var s string
	if err := json.Unmarshal(message, &s); err == nil {
		return []byte(s)
	}
	return message
}
