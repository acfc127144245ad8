package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentField_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind ContentKind
		wantText string
	}{
		{name: "plain string", input: `"Full text"`, wantKind: ContentPlain, wantText: "Full text"},
		{name: "wrapped object", input: `{"content":"<p>x</p>","direction":"ltr"}`, wantKind: ContentWrapped, wantText: "<p>x</p>"},
		{name: "wrapped without content", input: `{"direction":"ltr"}`, wantKind: ContentWrapped, wantText: ""},
		{name: "null", input: `null`, wantKind: ContentAbsent, wantText: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ContentField
			require.NoError(t, json.Unmarshal([]byte(tt.input), &c))
			assert.Equal(t, tt.wantKind, c.Kind)
			assert.Equal(t, tt.wantText, c.String())
		})
	}

	var c ContentField
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestParseArticle_KeepsRawAndInjectsDocID(t *testing.T) {
	body := []byte(`{"id":"abc123","title":"T","fullContent":"Full text","customField":{"nested":true}}`)

	a, err := ParseArticle(body)
	require.NoError(t, err)
	assert.Equal(t, "abc123", a.ID)
	assert.Equal(t, "Full text", a.FullContent.String())
	assert.Equal(t, ContentAbsent, a.Summary.Kind)

	out, err := a.EncodeWithDocID("key-1")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "key-1", decoded[DocIDField])
	assert.Equal(t, map[string]interface{}{"nested": true}, decoded["customField"])
	_, mutated := a.Raw[DocIDField]
	assert.False(t, mutated)
}

func TestLooseArticle(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  bool
		wantID   string
		wantOrig string
	}{
		{name: "wrong content type", body: `{"id":"abc123","summary":42}`, wantID: "abc123"},
		{name: "non-string id", body: `{"id":7,"originId":"https://example.com/a"}`, wantOrig: "https://example.com/a"},
		{name: "array", body: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, perr := ParseArticle([]byte(tt.body))
			require.Error(t, perr)

			a, err := LooseArticle([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, a.ID)
			assert.Equal(t, tt.wantOrig, a.OriginID)

			out, err := a.EncodeWithDocID("key-1")
			require.NoError(t, err)
			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(out, &decoded))
			assert.Equal(t, "key-1", decoded[DocIDField])

			_, err = ParseArticle(out)
			assert.Error(t, err)
		})
	}
}

func TestArticle_ResolveTranslation(t *testing.T) {
	fromObject, err := ParseArticle([]byte(`{"id":"1","translation":{"title":"Hello","content":"T","lang":"en"}}`))
	require.NoError(t, err)
	tr := fromObject.ResolveTranslation()
	require.NotNil(t, tr)
	assert.Equal(t, "T", tr.Content.String())

	fromActions, err := ParseArticle([]byte(`{"id":"1","aiActions":[{"type":"summary"},{"type":"translation","title":"Hi","content":{"content":"TT"},"lang":"en"}]}`))
	require.NoError(t, err)
	tr = fromActions.ResolveTranslation()
	require.NotNil(t, tr)
	assert.Equal(t, "Hi", tr.Title)
	assert.Equal(t, "TT", tr.Content.String())

	none, err := ParseArticle([]byte(`{"id":"1"}`))
	require.NoError(t, err)
	assert.Nil(t, none.ResolveTranslation())
}
