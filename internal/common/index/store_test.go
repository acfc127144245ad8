package index

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"feedly-pipeline/internal/common/config"
	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/index/indextest"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestStore(t *testing.T) (*Store, *indextest.Server) {
	t.Helper()
	srv := indextest.NewServer()
	t.Cleanup(srv.Close)

	store := NewStore(srv.Client(), config.IndexConfig{Name: "feedly-events", Refresh: "true"}, logger.NewTestLogger(t))
	return store, srv
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	doc := models.IndexedDocument{ID: "k1", Title: "New arena", URL: "https://example.com/a"}
	doc.City = strPtr("Lyon")

	require.NoError(t, store.Upsert(ctx, doc))
	require.NoError(t, store.Upsert(ctx, doc))

	assert.Equal(t, 1, srv.Count("feedly-events"))
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "New arena", got.Title)
	require.NotNil(t, got.City)
	assert.Equal(t, "Lyon", *got.City)
}

func TestStore_MergeKeepsExistingFields(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	doc := models.IndexedDocument{ID: "k1", Title: "Stadium", Content: "body"}
	doc.Vertical = strPtr("Sports")
	doc.VenueName = strPtr("Arena One")
	require.NoError(t, store.Upsert(ctx, doc))

	require.NoError(t, store.Merge(ctx, "k1", models.AnalysisMerge{
		EvaluationScore:  80,
		AuditOpportunity: true,
		AnalysisStatus:   models.AnalysisStatusAnalyzed,
		AnalysisDate:     "2026-01-02T03:04:05Z",
	}))

	stored := srv.Doc("feedly-events", "k1")
	assert.Equal(t, "Arena One", stored["venueName"])
	assert.Equal(t, "Sports", stored["vertical"])
	assert.Equal(t, "body", stored["content"])
	assert.Equal(t, float64(80), stored["evaluationScore"])
	assert.Equal(t, true, stored["auditOpportunity"])
}

func TestStore_MergeMissingDocument(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Merge(context.Background(), "missing", map[string]interface{}{"analysisStatus": "analyzed"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeIndexOperationFailed, apperrors.CodeOf(err))
	assert.True(t, errors.Is(err, ErrIndexOperationFailed))
}

func TestStore_MergeBatch(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()
	srv.Put("feedly-events", "a", map[string]interface{}{"id": "a", "title": "A"})

	docs := []MergeDoc{
		{Key: "a", Fields: map[string]interface{}{"analysisStatus": "pending"}},
		{Key: "b", Fields: map[string]interface{}{"analysisStatus": "pending"}},
		{Key: "c", Fields: map[string]interface{}{"analysisStatus": "pending"}},
	}
	result, err := store.MergeBatch(ctx, docs, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, srv.Calls("bulk"))
	assert.Equal(t, "A", srv.Doc("feedly-events", "a")["title"])
	assert.Equal(t, "pending", srv.Doc("feedly-events", "c")["analysisStatus"])
}

func TestStore_SearchNullOrEquals(t *testing.T) {
	store, srv := newTestStore(t)
	srv.Put("feedly-events", "pending", map[string]interface{}{"id": "pending", "analysisStatus": "pending"})
	srv.Put("feedly-events", "fresh", map[string]interface{}{"id": "fresh"})
	srv.Put("feedly-events", "done", map[string]interface{}{"id": "done", "analysisStatus": "analyzed"})

	docs, err := store.Search(context.Background(), NullOrEquals("analysisStatus", "pending"), 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"pending", "fresh"}, ids)
}

func TestStore_SearchFallsBackToHitID(t *testing.T) {
	store, srv := newTestStore(t)
	srv.Put("feedly-events", "k9", map[string]interface{}{"title": "no id field"})

	docs, err := store.Search(context.Background(), Filter{}, 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "k9", docs[0].ID)
}

func TestStore_SearchMissingIndex(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Search(context.Background(), Filter{}, 5)
	assert.Equal(t, apperrors.ErrCodeIndexNotFound, apperrors.CodeOf(err))
}

func TestStore_Deletes(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		srv.Put("feedly-events", id, map[string]interface{}{"id": id})
	}

	n, err := store.DeleteByKeys(ctx, []string{"a", "zz"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, srv.Doc("feedly-events", "a"))

	n, err = store.DeleteByKeys(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Zero(t, srv.Count("feedly-events"))
}

func TestStore_GetNotFound(t *testing.T) {
	store, srv := newTestStore(t)
	srv.Put("feedly-events", "other", map[string]interface{}{"id": "other"})

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestStore_EnsureIndex(t *testing.T) {
	store, srv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureIndex(ctx))
	require.NoError(t, store.EnsureIndex(ctx))
	assert.Equal(t, 1, srv.Calls("create_index"))
}

func TestStore_ServerErrorsAreRetryable(t *testing.T) {
	store, srv := newTestStore(t)
	srv.FailWith("index", http.StatusInternalServerError)

	err := store.Upsert(context.Background(), models.IndexedDocument{ID: "k1"})
	require.Error(t, err)

	stdErr := apperrors.Normalize(err)
	assert.Equal(t, apperrors.ErrCodeIndexOperationFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}
