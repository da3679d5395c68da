package opensearch

import "encoding/json"

// fieldName renders a field reference with the configured key prefix and the
// version-dependent keyword suffix.
func (b *Backend) fieldName(field string) string {
	return b.keyPrefix + field + b.fieldSuffix()
}

// fieldSuffix is the suffix keyword-typed fields carry in the index mapping.
// Logstash templates used .raw before major version 5 and .keyword from
// then on.
func (b *Backend) fieldSuffix() string {
	if b.majorVersion < 5 {
		return ".raw"
	}
	return ".keyword"
}

// matchClause builds a match query on the prefixed, suffixed field.
func (b *Backend) matchClause(field, value string) map[string]any {
	return map[string]any{"match": map[string]any{b.fieldName(field): value}}
}

// boolQuery combines the date window, the errored-call exclusion, and the
// given match clauses into one bool query.
func (b *Backend) boolQuery(matches ...map[string]any) map[string]any {
	must := make([]any, 0, len(matches)+2)
	for _, m := range matches {
		must = append(must, m)
	}
	if !b.start.IsZero() {
		must = append(must, map[string]any{
			"range": map[string]any{b.timestampField: map[string]any{"gte": b.start.Format(dateFormat)}},
		})
	}
	if !b.end.IsZero() {
		must = append(must, map[string]any{
			"range": map[string]any{b.timestampField: map[string]any{"lte": b.end.Format(dateFormat)}},
		})
	}
	return map[string]any{"bool": map[string]any{
		"must":     must,
		"must_not": []any{b.errorFilter()},
	}}
}

// errorFilter excludes calls that returned an error. Clusters before major
// version 2 only accept the legacy filtered form.
func (b *Backend) errorFilter() map[string]any {
	exists := map[string]any{"exists": map[string]any{"field": b.fieldName("errorCode")}}
	if b.majorVersion < 2 {
		return map[string]any{"filtered": map[string]any{"filter": exists}}
	}
	return exists
}

// principalsBody aggregates the distinct values of a principal-name field.
func (b *Backend) principalsBody(aggName, field string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"size":  0,
		"query": b.boolQuery(),
		"aggs": map[string]any{
			aggName: map[string]any{
				"terms": map[string]any{"field": b.fieldName(field), "size": aggregationSize},
			},
		},
	})
}

// eventNamesBody aggregates the distinct event names matching the clauses,
// with the event sources nested beneath each name.
func (b *Backend) eventNamesBody(matches ...map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"size":  0,
		"query": b.boolQuery(matches...),
		"aggs": map[string]any{
			"event_names": map[string]any{
				"terms": map[string]any{"field": b.fieldName("eventName"), "size": aggregationSize},
				"aggs": map[string]any{
					"service_names": map[string]any{
						"terms": map[string]any{"field": b.fieldName("eventSource"), "size": aggregationSize},
					},
				},
			},
		},
	})
}

// assumeRoleBody selects the AssumeRole events the source principal used to
// enter the destination role. These are fetched as hits rather than
// aggregated because each hit carries the session key it minted.
func (b *Backend) assumeRoleBody(sourceField, sourceARN, destRoleARN string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"size": scrollPageSize,
		"query": b.boolQuery(
			b.matchClause("eventName", "AssumeRole"),
			b.matchClause(sourceField, sourceARN),
			b.matchClause("requestParameters.roleArn", destRoleARN),
		),
	})
}
