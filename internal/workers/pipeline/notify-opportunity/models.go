// internal/workers/pipeline/notify-opportunity/models.go
package notifyopportunity

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

type Output struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
	SentAt         string `json:"sentAt"`
}

const (
	subjectTemplate = "Audit opportunity: {{title}} ({{evaluationScore}})"
	bodyTemplate    = `A new audit opportunity was identified.

Title: {{title}}
Score: {{evaluationScore}}
Reason: {{auditOpportunityReason}}
Vertical: {{vertical}}
Venue: {{venueName}}
Location: {{city}}, {{country}}
Project: {{projectType}} ({{projectPhase}})
Competitor: {{competitorNameMain}}

Document: {{id}}
`
)
