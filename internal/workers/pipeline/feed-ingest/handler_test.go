// internal/workers/pipeline/feed-ingest/handler_test.go
package feedingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/feedly"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSource struct {
	FetchStreamFunc func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error)
}

func (m *MockSource) FetchStream(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
	return m.FetchStreamFunc(ctx, opts)
}

type MockIndex struct {
	DeleteAllFunc func(ctx context.Context) (int, error)
	calls         int
}

func (m *MockIndex) DeleteAll(ctx context.Context) (int, error) {
	m.calls++
	return m.DeleteAllFunc(ctx)
}

type MockSender struct {
	SendFunc func(ctx context.Context, queue string, body []byte) (string, error)
	sent     [][]byte
}

func (m *MockSender) Send(ctx context.Context, queue string, body []byte) (string, error) {
	if m.SendFunc != nil {
		if _, err := m.SendFunc(ctx, queue, body); err != nil {
			return "", err
		}
	}
	m.sent = append(m.sent, body)
	return "msg", nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		RawQueue:     "q-raw-events",
		ClearIndex:   true,
		DefaultCount: 50,
		DefaultHours: 24,
		Timeout:      5 * time.Second,
	}
}

func articles(t *testing.T, bodies ...string) []*models.Article {
	t.Helper()
	out := make([]*models.Article, 0, len(bodies))
	for _, b := range bodies {
		a, err := models.ParseArticle([]byte(b))
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func okIndex() *MockIndex {
	return &MockIndex{DeleteAllFunc: func(ctx context.Context) (int, error) { return 3, nil }}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	fixed := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	var gotOpts feedly.FetchOptions
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		gotOpts = opts
		return articles(t,
			`{"id":"abc123","title":"Arena"}`,
			`{"id":"x","originId":"https://example.com/a","title":"Hotel"}`,
			`{"title":"no identifier"}`,
		), nil
	}}
	index := okIndex()
	sender := &MockSender{}

	h := NewHandler(createTestConfig(), source, index, sender, nil, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixed }

	out, err := h.Execute(context.Background(), &Input{Count: 10, Hours: 2})
	require.NoError(t, err)

	assert.Equal(t, &Output{Status: StatusSuccess, Ingested: 3, Source: SourceFeedly}, out)
	assert.Equal(t, 10, gotOpts.Count)
	assert.Equal(t, fixed.Add(-2*time.Hour).UnixMilli(), gotOpts.NewerThan)
	assert.Equal(t, 1, index.calls)

	require.Len(t, sender.sent, 3)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(sender.sent[0], &first))
	assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89", first["_doc_id"])
	assert.Equal(t, "Arena", first["title"])

	var third map[string]interface{}
	require.NoError(t, json.Unmarshal(sender.sent[2], &third))
	assert.NotContains(t, third, "_doc_id")
}

func TestHandler_Execute_ForwardsLooseItems(t *testing.T) {
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		loose, err := models.LooseArticle([]byte(`{"id":"abc123","summary":42}`))
		require.NoError(t, err)
		return []*models.Article{loose}, nil
	}}
	sender := &MockSender{}

	out, err := NewHandler(createTestConfig(), source, okIndex(), sender, nil, logger.NewTestLogger(t)).
		Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Ingested)

	require.Len(t, sender.sent, 1)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(sender.sent[0], &msg))
	assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89", msg["_doc_id"])
	assert.EqualValues(t, 42, msg["summary"])
}

func TestHandler_Execute_ExplicitIDPreferred(t *testing.T) {
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		return articles(t, `{"id":"abc123","originId":"https://example.com/a"}`), nil
	}}
	sender := &MockSender{}

	_, err := NewHandler(createTestConfig(), source, okIndex(), sender, nil, logger.NewTestLogger(t)).
		Execute(context.Background(), &Input{})
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(sender.sent[0], &msg))
	assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89", msg["_doc_id"])
}

func TestHandler_Execute_Defaults(t *testing.T) {
	var gotOpts feedly.FetchOptions
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		gotOpts = opts
		return nil, nil
	}}

	out, err := NewHandler(createTestConfig(), source, okIndex(), &MockSender{}, nil, logger.NewTestLogger(t)).
		Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Ingested)
	assert.Equal(t, 50, gotOpts.Count)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_ClearFailureDoesNotAbort(t *testing.T) {
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		return articles(t, `{"id":"a"}`), nil
	}}
	index := &MockIndex{DeleteAllFunc: func(ctx context.Context) (int, error) {
		return 0, apperrors.NewElasticsearchConnectionFailedError(errors.New("refused"))
	}}
	sender := &MockSender{}

	out, err := NewHandler(createTestConfig(), source, index, sender, nil, logger.NewTestLogger(t)).
		Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Ingested)
}

func TestHandler_Execute_ClearDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.ClearIndex = false
	source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
		return nil, nil
	}}
	index := okIndex()

	_, err := NewHandler(cfg, source, index, &MockSender{}, nil, logger.NewTestLogger(t)).Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Zero(t, index.calls)
}

func TestHandler_Execute_Failures(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		fetchErr error
		sendErr  error
		wantErr  error
		wantCode apperrors.ErrorCode
	}{
		{
			name:    "negative count",
			input:   &Input{Count: -1},
			wantErr: ErrInvalidInput,
		},
		{
			name:     "source failure",
			input:    &Input{},
			fetchErr: apperrors.NewSourceFetchFailedError(errors.New("502")),
			wantCode: apperrors.ErrCodeSourceFetchFailed,
		},
		{
			name:     "send failure",
			input:    &Input{},
			sendErr:  apperrors.NewQueueSendFailedError("q-raw-events", errors.New("redis down")),
			wantCode: apperrors.ErrCodeQueueSendFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockSource{FetchStreamFunc: func(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error) {
				if tt.fetchErr != nil {
					return nil, tt.fetchErr
				}
				return articles(t, `{"id":"a"}`), nil
			}}
			sender := &MockSender{SendFunc: func(ctx context.Context, queue string, body []byte) (string, error) {
				return "", tt.sendErr
			}}

			out, err := NewHandler(createTestConfig(), source, okIndex(), sender, nil, logger.NewTestLogger(t)).
				Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			}
		})
	}
}
