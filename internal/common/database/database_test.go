package database

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"feedly-pipeline/internal/common/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.ErrorIs(t, err, ErrNoRedisAddress)
}

func TestNewRedis_Mode(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RedisConfig
		want string
	}{
		{name: "single address", cfg: config.RedisConfig{Address: "localhost:6379"}, want: "single"},
		{name: "sentinel", cfg: config.RedisConfig{Addresses: []string{"s1:26379", "s2:26379"}, MasterName: "queues"}, want: "sentinel"},
		{name: "cluster", cfg: config.RedisConfig{Addresses: []string{"n1:6379", "n2:6379"}}, want: "cluster"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRedis(tt.cfg)
			require.NoError(t, err)
			defer client.Close()
			assert.Equal(t, tt.want, client.Mode())
		})
	}
}

func TestConfigurePool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	configurePool(db, config.PostgresConfig{MaxConnections: 7, MaxIdle: 2, ConnMaxLifetime: 60000})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}

func TestPostgresClient_PingError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(assert.AnError)

	client := &PostgresClient{DB: db}
	err = client.Ping(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "postgres ping failed")
	require.NoError(t, client.Close())
}

func TestNewElasticsearch_PingUsesURLFallback(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewElasticsearch(config.ElasticsearchConfig{URL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	require.NoError(t, client.Ping())
	assert.Equal(t, "ApiKey secret", gotAuth)
}

func TestNewElasticsearch_PingError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{server.URL}})
	require.NoError(t, err)
	assert.Error(t, client.Ping())
}
