package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushi-dev/pushi/internal/app"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewRepository(NewDatabaseForTesting(sqlDB)), mock
}

func TestCreateApp(t *testing.T) {
	repo, mock := newTestRepo(t)

	a := &app.App{ID: "app-1", Key: "key1", Secret: "secret1", Name: "acme"}
	mock.ExpectExec("INSERT INTO apps").
		WithArgs(a.ID, a.Key, a.Secret, a.Name, a.SMTPURL, a.APNKey, a.APNCert, a.VapidKey, a.VapidPublic, a.VapidEmail).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateApp(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetApp(t *testing.T) {
	repo, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{"id", "key", "secret", "name", "smtp_url", "apn_key", "apn_cer", "vapid_key", "vapid_public", "vapid_email"}).
		AddRow("app-1", "key1", "secret1", "acme", nil, nil, nil, nil, "pub-key", nil)
	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WithArgs("app-1").
		WillReturnRows(rows)

	a, err := repo.GetApp(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", a.Name)
	assert.Equal(t, "pub-key", a.VapidPublic)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAppNotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .* FROM apps WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetApp(context.Background(), "missing")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAndRemovePersonalSub(t *testing.T) {
	repo, mock := newTestRepo(t)
	sub := app.PersonalSub{AppID: "app-1", UserID: "user-1", Event: "channel-x"}

	mock.ExpectExec("INSERT INTO subs_personal").
		WithArgs(sub.AppID, sub.UserID, sub.Event).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.AddPersonalSub(context.Background(), sub))

	mock.ExpectExec("DELETE FROM subs_personal").
		WithArgs(sub.AppID, sub.UserID, sub.Event).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RemovePersonalSub(context.Background(), sub))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAdapterSubWebPush(t *testing.T) {
	repo, mock := newTestRepo(t)
	sub := app.AdapterSub{AppID: "app-1", Target: "endpoint", Event: "channel-x", Extras: map[string]string{"p256dh": "p", "auth": "a"}}

	mock.ExpectExec("INSERT INTO subs_web_push").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AddAdapterSub(context.Background(), "web_push", sub))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent(t *testing.T) {
	repo, mock := newTestRepo(t)
	rec := app.EventRecord{MID: "mid-1", AppID: "app-1", Channel: "news", Timestamp: 1000, Data: `{"x":1}`}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WithArgs(rec.MID, rec.AppID, rec.Channel, nil, rec.Timestamp, rec.Data).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO assoc").
		WithArgs(rec.AppID, rec.MID, "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AppendEvent(context.Background(), rec, []string{"user-1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
