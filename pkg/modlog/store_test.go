package modlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/auth"
	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

const feedURI = "at://did:plc:owner/app.bsky.feed.generator/cats"

var logColumns = []string{
	"id", "uri", "performed_by", "action", "target_user_did", "target_post_uri", "metadata", "created_at",
	"did", "handle", "display_name", "avatar",
	"did", "handle", "display_name", "avatar",
}

func TestStore_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metrics := observability.NewNopMetrics()
	store := NewStore(db, metrics)

	mock.ExpectExec("INSERT INTO logs").
		WithArgs(feedURI, "did:plc:owner", "mod_promote", "did:plc:bob", nil, `{"role":"mod"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Record(context.Background(), Entry{
		URI:           feedURI,
		PerformedBy:   "did:plc:owner",
		Action:        auth.ActionModPromote,
		TargetUserDID: "did:plc:bob",
		Metadata:      json.RawMessage(`{"role":"mod"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ModerationLogWrites.WithLabelValues("mod_promote", "success")))
}

func TestStore_Record_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db, nil)
	ctx := context.Background()

	assert.Error(t, store.Record(ctx, Entry{PerformedBy: "did:plc:a", Action: auth.ActionPostDelete}))
	assert.Error(t, store.Record(ctx, Entry{URI: feedURI, PerformedBy: "did:plc:a", Action: "nuke"}))

	mock.ExpectExec("INSERT INTO logs").WillReturnError(errors.New("disk full"))
	err = store.Record(ctx, Entry{URI: feedURI, PerformedBy: "did:plc:a", Action: auth.ActionPostDelete})
	assert.ErrorContains(t, err, "failed to record moderation log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db, nil)

	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	rows := sqlmock.NewRows(logColumns).
		AddRow(2, feedURI, "did:plc:owner", "user_ban", "did:plc:troll", "", []byte(`{"reason":"spam"}`), now,
			"did:plc:owner", "owner.test", "Owner", nil,
			nil, nil, nil, nil).
		AddRow(1, feedURI, "did:plc:ghost", "post_delete", "", "at://did:plc:x/app.bsky.feed.post/1", nil, from,
			nil, nil, nil, nil,
			nil, nil, nil, nil)

	mock.ExpectQuery(`FROM logs l\s+LEFT JOIN profiles pb .* AND l.uri = \$1 AND l.action = ANY\(\$2\) AND l.created_at >= \$3 ORDER BY l.created_at DESC, l.id DESC LIMIT \$4`).
		WithArgs(feedURI, sqlmock.AnyArg(), from, MaxLimit).
		WillReturnRows(rows)

	entries, err := store.Query(context.Background(), Filter{
		URI:     feedURI,
		Actions: ModVisibleActions,
		From:    &from,
		Limit:   10000,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, auth.ActionUserBan, entries[0].Action)
	require.NotNil(t, entries[0].Performer)
	assert.Equal(t, "owner.test", entries[0].Performer.Handle)
	assert.Nil(t, entries[0].TargetUser, "missing target profile yields nil")
	assert.JSONEq(t, `{"reason":"spam"}`, string(entries[0].Metadata))

	assert.Nil(t, entries[1].Performer)
	assert.Nil(t, entries[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Query_AscendingWithDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db, nil)

	mock.ExpectQuery(`AND l.performed_by = \$1 ORDER BY l.created_at ASC, l.id ASC LIMIT \$2`).
		WithArgs("did:plc:owner", DefaultLimit).
		WillReturnRows(sqlmock.NewRows(logColumns))

	entries, err := store.Query(context.Background(), Filter{PerformedBy: "did:plc:owner", Order: OrderAsc})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilter_Normalized(t *testing.T) {
	f := Filter{}.normalized()
	assert.Equal(t, OrderDesc, f.Order)
	assert.Equal(t, DefaultLimit, f.Limit)

	f = Filter{Order: "sideways", Limit: 501}.normalized()
	assert.Equal(t, OrderDesc, f.Order)
	assert.Equal(t, MaxLimit, f.Limit)
}
