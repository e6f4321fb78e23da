package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
)

// Webhook delivers events as an HTTP POST of the JSON envelope to each
// registered target URL.
type Webhook struct {
	*index
	client *http.Client
}

// NewWebhook creates the webhook adapter.
func NewWebhook(repo app.Repository, aliases *alias.Map) *Webhook {
	return &Webhook{
		index:  newIndex("webhook", repo, aliases),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, appID, channel string, env Envelope) []Result {
	targets := w.targetsFor(appID, channel)
	if len(targets) == 0 {
		return nil
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return []Result{{Err: fmt.Errorf("marshal envelope: %w", err)}}
	}

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		err := w.post(ctx, t.Target, payload)
		results = append(results, Result{Target: t.Target, Err: err})
	}
	logFailures(w.Name(), results)
	return results
}

func (w *Webhook) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook target returned status %d", resp.StatusCode)
	}
	return nil
}
