// internal/models/events.go
package models

// EventFields is the business snapshot carried between stages.
type EventFields struct {
	Vertical           *string     `json:"vertical"`
	VenueName          *string     `json:"venueName"`
	City               *string     `json:"city"`
	Country            *string     `json:"country"`
	Zone               *string     `json:"zone"`
	VenueType          *string     `json:"venueType"`
	Capacity           interface{} `json:"capacity"`
	ProjectType        *string     `json:"projectType"`
	ProjectPhase       *string     `json:"projectPhase"`
	OpeningYear        interface{} `json:"openingYear"`
	Investment         interface{} `json:"investment"`
	CompetitorNameMain *string     `json:"competitorNameMain"`
}

// AgentPayload is sent to the enrichment agent.
type AgentPayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	FullContent string `json:"fullContent"`
	Summary     string `json:"summary"`
	Origin      string `json:"origin"`
	URL         string `json:"url"`
	SourceID    string `json:"sourceId"`
	Published   *int64 `json:"published"`
	Crawled     *int64 `json:"crawled"`
	Language    string `json:"language"`
	Entities    string `json:"entities"`
	Topics      string `json:"topics"`
}

// EnrichedEvent is published to the enriched-events queue.
type EnrichedEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	EventFields
	Content string `json:"content"`
}

// OpportunityEvent is published to the opportunities queue. It never carries content.
type OpportunityEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	EventFields
	EvaluationScore        int    `json:"evaluationScore"`
	AuditOpportunityReason string `json:"auditOpportunityReason"`
}

// AnalysisPayload is sent to the analysis agent.
type AnalysisPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	EventFields
}

// AnalysisResult is the analysis agent response after normalization.
type AnalysisResult struct {
	EvaluationScore        int
	AuditOpportunity       bool
	AuditOpportunityReason string
	GlobalVertical         string
	AnalysisStatus         string
}
