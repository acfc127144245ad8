// internal/models/article.go
package models

import (
	"encoding/json"
	"fmt"
)

// DocIDField is injected into raw-event bodies at ingest.
const DocIDField = "_doc_id"

type Origin struct {
	Title    string `json:"title"`
	StreamID string `json:"streamId"`
	HTMLURL  string `json:"htmlUrl"`
}

type Label struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
}

type Translation struct {
	Title   string       `json:"title"`
	Content ContentField `json:"content"`
	Lang    string       `json:"lang"`
}

type AIAction struct {
	Type    string       `json:"type"`
	Title   string       `json:"title"`
	Content ContentField `json:"content"`
	Lang    string       `json:"lang"`
}

// Article is a Feedly stream item. Raw keeps the payload as received so a
// re-emitted raw event only differs by the injected document key.
type Article struct {
	ID           string       `json:"id"`
	OriginID     string       `json:"originId"`
	Title        string       `json:"title"`
	FullContent  ContentField `json:"fullContent"`
	Summary      ContentField `json:"summary"`
	Content      ContentField `json:"content"`
	Translation  *Translation `json:"translation,omitempty"`
	AIActions    []AIAction   `json:"aiActions,omitempty"`
	Origin       *Origin      `json:"origin,omitempty"`
	Published    *int64       `json:"published,omitempty"`
	Crawled      *int64       `json:"crawled,omitempty"`
	Language     string       `json:"language"`
	CanonicalURL string       `json:"canonicalUrl"`
	Entities     []Label      `json:"entities,omitempty"`
	CommonTopics []Label      `json:"commonTopics,omitempty"`
	DocID        string       `json:"_doc_id,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// ParseArticle decodes a raw-event body.
func ParseArticle(body []byte) (*Article, error) {
	var a Article
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}
	if err := json.Unmarshal(body, &a.Raw); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}
	return &a, nil
}

// LooseArticle keeps an item whose fields do not fit Article so it can still
// be forwarded. Only the identifier fields are read, and only when they are strings.
func LooseArticle(body []byte) (*Article, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode article: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode article: null item")
	}
	a := &Article{Raw: raw}
	a.ID, _ = raw["id"].(string)
	a.OriginID, _ = raw["originId"].(string)
	return a, nil
}

// ResolveTranslation returns the translation object when present, else the
// first aiActions entry of type "translation".
func (a *Article) ResolveTranslation() *Translation {
	if a.Translation != nil && (a.Translation.Title != "" || !a.Translation.Content.IsEmpty()) {
		return a.Translation
	}
	for _, action := range a.AIActions {
		if action.Type == "translation" {
			return &Translation{Title: action.Title, Content: action.Content, Lang: action.Lang}
		}
	}
	return nil
}

// EncodeWithDocID re-encodes the original payload with _doc_id set.
// An empty key leaves the payload unchanged.
func (a *Article) EncodeWithDocID(key string) ([]byte, error) {
	raw := a.Raw
	if raw == nil {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
	}

	out := make(map[string]interface{}, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if key != "" {
		out[DocIDField] = key
	}
	return json.Marshal(out)
}

func (a *Article) EntityLabels() []string {
	return labels(a.Entities)
}

func (a *Article) TopicLabels() []string {
	return labels(a.CommonTopics)
}

func labels(in []Label) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		out = append(out, l.Label)
	}
	return out
}
