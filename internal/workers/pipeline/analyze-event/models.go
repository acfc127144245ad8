// internal/workers/pipeline/analyze-event/models.go
package analyzeevent

type Output struct {
	DocID            string `json:"docId"`
	EvaluationScore  int    `json:"evaluationScore"`
	AuditOpportunity bool   `json:"auditOpportunity"`
	AnalysisStatus   string `json:"analysisStatus"`
	Published        bool   `json:"published"`
}
