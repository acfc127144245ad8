// internal/workers/pipeline/enrich-event/models.go
package enrichevent

type Output struct {
	DocID     string  `json:"docId"`
	Title     string  `json:"title"`
	Vertical  *string `json:"vertical"`
	MessageID string  `json:"messageId"`
}
