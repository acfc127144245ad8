package index

import "sort"

// Filter selects documents by field equality and absence.
// All conditions in one Filter must hold; AnyOf adds an OR over sub-filters.
type Filter struct {
	Equals map[string]interface{}
	IsNull []string
	AnyOf  []Filter
}

// NullOrEquals matches documents where field is missing or equal to value.
func NullOrEquals(field string, value interface{}) Filter {
	return Filter{AnyOf: []Filter{
		{IsNull: []string{field}},
		{Equals: map[string]interface{}{field: value}},
	}}
}

func (f Filter) isEmpty() bool {
	return len(f.Equals) == 0 && len(f.IsNull) == 0 && len(f.AnyOf) == 0
}

// Query renders the filter as an Elasticsearch query clause.
func (f Filter) Query() map[string]interface{} {
	if f.isEmpty() {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	var filters []interface{}
	var mustNot []interface{}

	fields := make([]string, 0, len(f.Equals))
	for field := range f.Equals {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{field: f.Equals[field]},
		})
	}

	for _, field := range f.IsNull {
		mustNot = append(mustNot, map[string]interface{}{
			"exists": map[string]interface{}{"field": field},
		})
	}

	if len(f.AnyOf) > 0 {
		should := make([]interface{}, 0, len(f.AnyOf))
		for _, sub := range f.AnyOf {
			should = append(should, sub.Query())
		}
		filters = append(filters, map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		})
	}

	boolQuery := map[string]interface{}{}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	return map[string]interface{}{"bool": boolQuery}
}

// Mapping is applied when the index is created. Fields the agent fills with
// mixed numbers and text are keywords.
var Mapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":                            keyword(),
			"url":                           keyword(),
			"origin":                        keyword(),
			"published":                     map[string]interface{}{"type": "long"},
			"crawled":                       map[string]interface{}{"type": "long"},
			"language":                      keyword(),
			"sourceId":                      keyword(),
			"publicationDate":               map[string]interface{}{"type": "date"},
			"title":                         text(),
			"content":                       text(),
			"entities":                      text(),
			"topics":                        text(),
			"vertical":                      keyword(),
			"venueName":                     keyword(),
			"city":                          keyword(),
			"country":                       keyword(),
			"zone":                          keyword(),
			"venueType":                     keyword(),
			"capacity":                      keyword(),
			"projectType":                   keyword(),
			"projectPhase":                  keyword(),
			"openingYear":                   keyword(),
			"openingDate":                   keyword(),
			"investment":                    keyword(),
			"investmentCurrency":            keyword(),
			"competitorNameMain":            keyword(),
			"competitorNameOther":           text(),
			"keyProductsInstalled":          text(),
			"architectConsultantContractor": text(),
			"investorOwnerManagement":       text(),
			"systemIntegrator":              text(),
			"otherKeyPlayers":               text(),
			"additionalInformation":         text(),
			"evaluationScore":               map[string]interface{}{"type": "integer"},
			"auditOpportunity":              map[string]interface{}{"type": "boolean"},
			"auditOpportunityReason":        text(),
			"analysisStatus":                keyword(),
			"analysisDate":                  map[string]interface{}{"type": "date"},
		},
	},
}

func keyword() map[string]interface{} {
	return map[string]interface{}{"type": "keyword"}
}

func text() map[string]interface{} {
	return map[string]interface{}{"type": "text"}
}
