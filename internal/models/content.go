// internal/models/content.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ContentKind tags which shape a ContentField arrived in.
type ContentKind int

const (
	ContentAbsent ContentKind = iota
	ContentPlain
	ContentWrapped
)

// ContentField is a Feedly text value that is either a bare string or
// a {content, direction} object.
type ContentField struct {
	Kind      ContentKind
	Text      string
	Direction string
}

func PlainText(s string) ContentField {
	return ContentField{Kind: ContentPlain, Text: s}
}

func Wrapped(content, direction string) ContentField {
	return ContentField{Kind: ContentWrapped, Text: content, Direction: direction}
}

// String collapses the field to plain text; absent fields collapse to "".
func (c ContentField) String() string {
	if c.Kind == ContentAbsent {
		return ""
	}
	return c.Text
}

func (c ContentField) IsEmpty() bool {
	return c.String() == ""
}

type wrappedContent struct {
	Content   *string `json:"content"`
	Direction string  `json:"direction,omitempty"`
}

func (c *ContentField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ContentField{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = PlainText(s)
		return nil
	case '{':
		var w wrappedContent
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		text := ""
		if w.Content != nil {
			text = *w.Content
		}
		*c = Wrapped(text, w.Direction)
		return nil
	}
	return fmt.Errorf("content field: unsupported JSON value %s", string(data))
}

func (c ContentField) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentPlain:
		return json.Marshal(c.Text)
	case ContentWrapped:
		return json.Marshal(wrappedContent{Content: &c.Text, Direction: c.Direction})
	}
	return []byte("null"), nil
}
