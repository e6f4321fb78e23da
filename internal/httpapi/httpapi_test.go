package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/auth"
	"github.com/pushi-dev/pushi/internal/broker"
	"github.com/pushi-dev/pushi/internal/config"
)

type fakeRepo struct {
	apps []*app.App
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

func (f *fakeRepo) UpdateApp(ctx context.Context, a *app.App) error {
	for i, existing := range f.apps {
		if existing.ID == a.ID {
			f.apps[i] = a
		}
	}
	return nil
}

func (f *fakeRepo) LoadApps(ctx context.Context) ([]*app.App, error) { return f.apps, nil }

func (f *fakeRepo) LoadPersonalSubs(ctx context.Context) ([]app.PersonalSub, error) { return nil, nil }

func (f *fakeRepo) LoadAdapterSubs(ctx context.Context, adapter string) ([]app.AdapterSub, error) {
	return nil, nil
}

func (f *fakeRepo) AddPersonalSub(ctx context.Context, s app.PersonalSub) error { return nil }

func (f *fakeRepo) RemovePersonalSub(ctx context.Context, s app.PersonalSub) error { return nil }

func (f *fakeRepo) AddAdapterSub(ctx context.Context, adapter string, s app.AdapterSub) error {
	return nil
}

func (f *fakeRepo) RemoveAdapterSub(ctx context.Context, adapter string, appID, target, event string) error {
	return nil
}

func (f *fakeRepo) AppendEvent(ctx context.Context, rec app.EventRecord, userIDs []string) error {
	return nil
}

func testSetup(t *testing.T, apps ...*app.App) (*gin.Engine, *auth.JWTManager, *fakeRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := &fakeRepo{apps: apps}
	b := broker.New(repo, config.Config{})
	require.NoError(t, b.Load(t.Context()))

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{SecretKey: "test-secret-at-least-32-bytes!!"})
	authHandler := auth.NewHandler(auth.AdminCredentials{AdminID: "admin", Username: "admin", PasswordHash: mustHash(t, "secret")}, jwtManager)
	h := NewHandler(repo, b, jwtManager)

	return NewControlRouter(h, authHandler, jwtManager), jwtManager, repo
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := auth.NewTokenHasher().HashPassword(password)
	require.NoError(t, err)
	return hash
}

func adminToken(t *testing.T, jwtManager *auth.JWTManager) string {
	t.Helper()
	token, err := jwtManager.GenerateToken("admin", "admin")
	require.NoError(t, err)
	return token
}

func doRequest(r *gin.Engine, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAppRequiresAdmin(t *testing.T) {
	r, _, _ := testSetup(t)
	w := doRequest(r, http.MethodPost, "/apps", gin.H{"name": "acme"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAppSucceeds(t *testing.T) {
	r, jwtManager, repo := testSetup(t)
	token := adminToken(t, jwtManager)

	w := doRequest(r, http.MethodPost, "/apps", gin.H{"name": "acme"}, token)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp appDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.Key)
	assert.NotEmpty(t, resp.Secret)
	assert.Len(t, repo.apps, 1)
}

func TestPublishEventAcceptsAppCredentials(t *testing.T) {
	a := &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "acme"}
	r, _, _ := testSetup(t, a)

	body := gin.H{"event": "hello", "channel": "news", "data": json.RawMessage(`{"x":1}`), "app_key": "key1", "app_secret": "secret1"}
	w := doRequest(r, http.MethodPost, "/apps/app-1/events", body, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublishEventRejectsBadCredentials(t *testing.T) {
	a := &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "acme"}
	r, _, _ := testSetup(t, a)

	body := gin.H{"event": "hello", "channel": "news", "data": json.RawMessage(`{"x":1}`), "app_key": "key1", "app_secret": "wrong"}
	w := doRequest(r, http.MethodPost, "/apps/app-1/events", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVapidKeyReturnsPublicKey(t *testing.T) {
	a := &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "acme", VapidPublic: "pub-key"}
	r, _, _ := testSetup(t, a)

	w := doRequest(r, http.MethodGet, "/apps/vapid_key?app_id=app-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pub-key")
}

func TestGetAppRequiresAdmin(t *testing.T) {
	a := &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "acme"}
	r, _, _ := testSetup(t, a)

	w := doRequest(r, http.MethodGet, "/apps/app-1", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
