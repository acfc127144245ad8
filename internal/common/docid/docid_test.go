package docid

import (
	"errors"
	"regexp"
	"testing"

	apperrors "feedly-pipeline/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestDeriveKey_Deterministic(t *testing.T) {
	inputs := []string{
		"abc123",
		"https://example.com/articles/1",
		"https://example.com/articles/2",
		"tag:feedly.com,2013:entry/0f7a",
		"é-unicode-id",
	}

	seen := make(map[string]string)
	for _, in := range inputs {
		k1, err := DeriveKey(in)
		require.NoError(t, err)
		k2, err := DeriveKey(in)
		require.NoError(t, err)

		assert.Equal(t, k1, k2)
		assert.Regexp(t, keyPattern, k1)
		if prev, dup := seen[k1]; dup {
			t.Fatalf("collision between %q and %q", prev, in)
		}
		seen[k1] = in
	}
}

func TestDeriveKey_KnownValue(t *testing.T) {
	key, err := DeriveKey("abc123")
	require.NoError(t, err)
	assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89", key)
}

func TestDeriveKey_EmptyIdentifier(t *testing.T) {
	for _, in := range []string{"", "   "} {
		_, err := DeriveKey(in)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEmptyIdentifier))
		assert.Equal(t, apperrors.ErrCodeKeyDerivationFailed, apperrors.CodeOf(err))
	}
}

func TestSourceIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		originID string
		want     string
	}{
		{name: "explicit id wins over url", id: "id-1", originID: "https://origin", want: "id-1"},
		{name: "url when id missing", originID: "https://origin", want: "https://origin"},
		{name: "blank id falls back", id: "  ", originID: "https://origin", want: "https://origin"},
		{name: "id only", id: "id-1", want: "id-1"},
		{name: "neither", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SourceIdentifier(tt.id, tt.originID))
		})
	}
}
