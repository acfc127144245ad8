// internal/workers/pipeline/feed-ingest/models.go
package feedingest

type Input struct {
	Count int `json:"count"`
	Hours int `json:"hours"`
}

type Output struct {
	Status   string `json:"status"`
	Ingested int    `json:"ingested"`
	Source   string `json:"source"`
}

const (
	StatusSuccess = "success"
	SourceFeedly  = "feedly"
)
