// internal/models/document.go
package models

// Analysis statuses
const (
	AnalysisStatusPending  = "pending"
	AnalysisStatusAnalyzed = "analyzed"
	AnalysisStatusRejected = "rejected"
)

// BusinessFields are the enrichment agent's output. Absent values are null.
type BusinessFields struct {
	Vertical                      *string     `json:"vertical"`
	VenueName                     *string     `json:"venueName"`
	City                          *string     `json:"city"`
	Country                       *string     `json:"country"`
	Zone                          *string     `json:"zone"`
	VenueType                     *string     `json:"venueType"`
	Capacity                      interface{} `json:"capacity"`
	ProjectType                   *string     `json:"projectType"`
	ProjectPhase                  *string     `json:"projectPhase"`
	OpeningYear                   interface{} `json:"openingYear"`
	OpeningDate                   interface{} `json:"openingDate"`
	Investment                    interface{} `json:"investment"`
	InvestmentCurrency            *string     `json:"investmentCurrency"`
	CompetitorNameMain            *string     `json:"competitorNameMain"`
	CompetitorNameOther           *string     `json:"competitorNameOther"`
	KeyProductsInstalled          *string     `json:"keyProductsInstalled"`
	ArchitectConsultantContractor *string     `json:"architectConsultantContractor"`
	InvestorOwnerManagement       *string     `json:"investorOwnerManagement"`
	SystemIntegrator              *string     `json:"systemIntegrator"`
	OtherKeyPlayers               *string     `json:"otherKeyPlayers"`
	AdditionalInformation         *string     `json:"additionalInformation"`
}

// AnalysisFields are written only by the analyze stage.
type AnalysisFields struct {
	EvaluationScore        *int    `json:"evaluationScore,omitempty"`
	AuditOpportunity       *bool   `json:"auditOpportunity,omitempty"`
	AuditOpportunityReason *string `json:"auditOpportunityReason,omitempty"`
	AnalysisStatus         *string `json:"analysisStatus,omitempty"`
	AnalysisDate           *string `json:"analysisDate,omitempty"`
}

// IndexedDocument is the searchable record stored under a document key.
type IndexedDocument struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	Origin          string  `json:"origin"`
	Published       *int64  `json:"published"`
	Crawled         *int64  `json:"crawled"`
	Language        string  `json:"language"`
	SourceID        string  `json:"sourceId"`
	PublicationDate *string `json:"publicationDate,omitempty"`

	Title    string `json:"title"`
	Content  string `json:"content"`
	Entities string `json:"entities"`
	Topics   string `json:"topics"`

	BusinessFields
	AnalysisFields
}

// AnalysisMerge is the partial update applied by the analyze stage.
type AnalysisMerge struct {
	EvaluationScore        int     `json:"evaluationScore"`
	AuditOpportunity       bool    `json:"auditOpportunity"`
	AuditOpportunityReason string  `json:"auditOpportunityReason"`
	AnalysisStatus         string  `json:"analysisStatus"`
	AnalysisDate           string  `json:"analysisDate"`
	Vertical               *string `json:"vertical,omitempty"`
}
