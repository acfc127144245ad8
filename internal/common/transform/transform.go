// Package transform holds the pure projections between stage shapes.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"feedly-pipeline/internal/models"
)

// NormalizedContent is an article's text after union collapse, precedence and translation.
type NormalizedContent struct {
	Title       string
	FullContent string
	Summary     string
	// Content is FullContent, or Summary when FullContent is empty.
	Content string
}

// NormalizeContent applies fullContent > content > summary precedence.
// A translation replaces title and content but never the summary.
func NormalizeContent(a *models.Article) NormalizedContent {
	title := a.Title
	fullContent := a.FullContent.String()
	if fullContent == "" {
		fullContent = a.Content.String()
	}
	summary := a.Summary.String()

	if tr := a.ResolveTranslation(); tr != nil {
		if tr.Title != "" {
			title = tr.Title
		}
		if c := tr.Content.String(); c != "" {
			fullContent = c
		}
	}

	content := fullContent
	if content == "" {
		content = summary
	}

	return NormalizedContent{
		Title:       title,
		FullContent: fullContent,
		Summary:     summary,
		Content:     content,
	}
}

// BuildAgentPayload builds the enrichment agent request.
func BuildAgentPayload(a *models.Article, n NormalizedContent) models.AgentPayload {
	url := a.OriginID
	if url == "" {
		url = a.CanonicalURL
	}
	var originTitle, sourceID string
	if a.Origin != nil {
		originTitle = a.Origin.Title
		sourceID = a.Origin.StreamID
	}

	return models.AgentPayload{
		Title:       n.Title,
		Content:     n.Content,
		FullContent: n.FullContent,
		Summary:     n.Summary,
		Origin:      originTitle,
		URL:         url,
		SourceID:    sourceID,
		Published:   a.Published,
		Crawled:     a.Crawled,
		Language:    a.Language,
		Entities:    strings.Join(a.EntityLabels(), ", "),
		Topics:      strings.Join(a.TopicLabels(), ", "),
	}
}

// PublicationDate renders epoch milliseconds as ISO-8601 UTC with a Z suffix.
func PublicationDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.999999") + "Z"
}

// BuildBusinessFields maps an enrichment response onto the business field group.
func BuildBusinessFields(enrichment map[string]interface{}) models.BusinessFields {
	return models.BusinessFields{
		Vertical:                      StringField(enrichment, "vertical"),
		VenueName:                     StringField(enrichment, "venueName"),
		City:                          StringField(enrichment, "city"),
		Country:                       StringField(enrichment, "country"),
		Zone:                          StringField(enrichment, "zone"),
		VenueType:                     StringField(enrichment, "venueType"),
		Capacity:                      ValueField(enrichment, "capacity"),
		ProjectType:                   StringField(enrichment, "projectType"),
		ProjectPhase:                  StringField(enrichment, "projectPhase"),
		OpeningYear:                   ValueField(enrichment, "openingYear"),
		OpeningDate:                   ValueField(enrichment, "openingDate"),
		Investment:                    ValueField(enrichment, "investment"),
		InvestmentCurrency:            StringField(enrichment, "investmentCurrency"),
		CompetitorNameMain:            StringField(enrichment, "competitorNameMain"),
		CompetitorNameOther:           StringField(enrichment, "competitorNameOther"),
		KeyProductsInstalled:          StringField(enrichment, "keyProductsInstalled"),
		ArchitectConsultantContractor: StringField(enrichment, "architectConsultantContractor"),
		InvestorOwnerManagement:       StringField(enrichment, "investorOwnerManagement"),
		SystemIntegrator:              StringField(enrichment, "systemIntegrator"),
		OtherKeyPlayers:               StringField(enrichment, "otherKeyPlayers"),
		AdditionalInformation:         StringField(enrichment, "additionalInformation"),
	}
}

// BuildEnrichedDocument assembles the full document written by the enrich stage.
// Analysis fields are left unset.
func BuildEnrichedDocument(key string, p models.AgentPayload, enrichment map[string]interface{}) models.IndexedDocument {
	content := p.Content
	if content == "" {
		content = p.Summary
	}

	doc := models.IndexedDocument{
		ID:             key,
		URL:            p.URL,
		Origin:         p.Origin,
		Published:      p.Published,
		Crawled:        p.Crawled,
		Language:       p.Language,
		SourceID:       p.SourceID,
		Title:          p.Title,
		Content:        content,
		Entities:       p.Entities,
		Topics:         p.Topics,
		BusinessFields: BuildBusinessFields(enrichment),
	}
	if p.Published != nil {
		date := PublicationDate(*p.Published)
		doc.PublicationDate = &date
	}
	return doc
}

func eventFields(b models.BusinessFields) models.EventFields {
	return models.EventFields{
		Vertical:           b.Vertical,
		VenueName:          b.VenueName,
		City:               b.City,
		Country:            b.Country,
		Zone:               b.Zone,
		VenueType:          b.VenueType,
		Capacity:           b.Capacity,
		ProjectType:        b.ProjectType,
		ProjectPhase:       b.ProjectPhase,
		OpeningYear:        b.OpeningYear,
		Investment:         b.Investment,
		CompetitorNameMain: b.CompetitorNameMain,
	}
}

// BuildEnrichedEvent projects an enriched document onto the enriched-event message.
func BuildEnrichedEvent(doc models.IndexedDocument) models.EnrichedEvent {
	return models.EnrichedEvent{
		ID:          doc.ID,
		Title:       doc.Title,
		EventFields: eventFields(doc.BusinessFields),
		Content:     doc.Content,
	}
}

// BuildOpportunityEvent drops content and adds the score fields.
func BuildOpportunityEvent(ev models.EnrichedEvent, analysis models.AnalysisResult) models.OpportunityEvent {
	return models.OpportunityEvent{
		ID:                     ev.ID,
		Title:                  ev.Title,
		EventFields:            ev.EventFields,
		EvaluationScore:        analysis.EvaluationScore,
		AuditOpportunityReason: analysis.AuditOpportunityReason,
	}
}

func BuildAnalysisPayload(ev models.EnrichedEvent) models.AnalysisPayload {
	return models.AnalysisPayload{
		Title:       ev.Title,
		Content:     ev.Content,
		EventFields: ev.EventFields,
	}
}

// ParseAnalysis normalizes a raw analysis agent response.
func ParseAnalysis(resp map[string]interface{}) models.AnalysisResult {
	result := models.AnalysisResult{
		EvaluationScore:  NormalizeScore(resp["evaluationScore"]),
		AuditOpportunity: NormalizeOpportunity(resp["auditOpportunity"]),
	}
	if s := StringField(resp, "auditOpportunityReason"); s != nil {
		result.AuditOpportunityReason = *s
	}
	if s := StringField(resp, "globalVertical"); s != nil {
		result.GlobalVertical = *s
	}
	if s := StringField(resp, "analysisStatus"); s != nil {
		result.AnalysisStatus = strings.ToLower(*s)
	}
	return result
}

// BuildAnalysisMerge builds the analyze stage's partial update.
func BuildAnalysisMerge(analysis models.AnalysisResult, now time.Time) models.AnalysisMerge {
	status := models.AnalysisStatusAnalyzed
	if analysis.AnalysisStatus == models.AnalysisStatusAnalyzed || analysis.AnalysisStatus == models.AnalysisStatusRejected {
		status = analysis.AnalysisStatus
	}

	merge := models.AnalysisMerge{
		EvaluationScore:        analysis.EvaluationScore,
		AuditOpportunity:       analysis.AuditOpportunity,
		AuditOpportunityReason: analysis.AuditOpportunityReason,
		AnalysisStatus:         status,
		AnalysisDate:           now.UTC().Format(time.RFC3339),
	}
	if analysis.GlobalVertical != "" {
		v := analysis.GlobalVertical
		merge.Vertical = &v
	}
	return merge
}

// NormalizeScore coerces a score to 0-100. Scores on a 0-10 scale are multiplied by 10.
func NormalizeScore(v interface{}) int {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	// clamp before int conversion, which is undefined past the int range
	if f > 100 {
		return 100
	}

	score := int(f)
	if score <= 10 {
		score *= 10
	}
	return score
}

var opportunityWords = map[string]bool{
	"true":     true,
	"yes":      true,
	"high":     true,
	"moderate": true,
	"medium":   true,
}

// NormalizeOpportunity accepts a bool or a qualitative string.
func NormalizeOpportunity(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return opportunityWords[strings.ToLower(strings.TrimSpace(t))]
	}
	return false
}

// StringField returns m[key] as a non-empty string pointer, or nil.
// Lists are joined with ", " and numbers formatted.
func StringField(m map[string]interface{}, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}

	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			if str := strings.TrimSpace(fmt.Sprint(item)); str != "" {
				parts = append(parts, str)
			}
		}
		s = strings.Join(parts, ", ")
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprint(t)
	}
	if s == "" {
		return nil
	}
	return &s
}

// ValueField returns m[key] unchanged, mapping empty strings to nil.
func ValueField(m map[string]interface{}, key string) interface{} {
	v := m[key]
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return v
}
