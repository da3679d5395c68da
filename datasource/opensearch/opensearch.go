// Package opensearch answers CloudTrail activity queries from an OpenSearch
// or Elasticsearch cluster that indexes the raw log documents.
//
// The query vocabulary moved between cluster generations: keyword fields
// carry a .raw suffix before major version 5 and .keyword afterwards, and
// the errored-call exclusion needs the legacy filtered form before version
// 2. The backend reads the cluster version once at startup and renders every
// query accordingly.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/byteness/cloudtracker/catalog"
	"github.com/byteness/cloudtracker/config"
	trackererrors "github.com/byteness/cloudtracker/errors"
)

const (
	defaultIndex          = "cloudtrail"
	defaultTimestampField = "eventTime"
	dateFormat            = "2006-01-02"

	// aggregationSize bounds the distinct buckets one aggregation returns.
	aggregationSize = 5000
	// scrollPageSize is the hits per page when scanning role assumptions.
	scrollPageSize = 1000
	// scrollKeepAlive is how long the cluster holds scroll state between
	// page fetches.
	scrollKeepAlive = time.Minute
)

// Options bounds the date window, inclusive.
type Options struct {
	Start time.Time
	End   time.Time
}

// Backend queries CloudTrail documents in an OpenSearch cluster.
type Backend struct {
	client         *opensearch.Client
	index          string
	keyPrefix      string
	timestampField string
	majorVersion   int
	start          time.Time
	end            time.Time
}

// New connects to the configured cluster and reads its version, which
// decides the query dialect.
func New(ctx context.Context, cfg *config.ElasticsearchConfig, opts Options) (*Backend, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)},
	})
	if err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot build the search client for %s:%d: %v", cfg.Host, cfg.Port, err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}

	b := newBackend(client, cfg, opts)
	if err := b.resolveClusterVersion(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// newBackend wires the struct without touching the cluster.
func newBackend(client *opensearch.Client, cfg *config.ElasticsearchConfig, opts Options) *Backend {
	index := cfg.Index
	if index == "" {
		index = defaultIndex
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix != "" {
		keyPrefix += "."
	}
	timestampField := cfg.TimestampField
	if timestampField == "" {
		timestampField = defaultTimestampField
	}
	return &Backend{
		client:         client,
		index:          index,
		keyPrefix:      keyPrefix,
		timestampField: timestampField,
		start:          opts.Start,
		end:            opts.End,
	}
}

// resolveClusterVersion reads the cluster's major version from the root
// endpoint.
func (b *Backend) resolveClusterVersion(ctx context.Context) error {
	res, err := opensearchapi.InfoRequest{}.Do(ctx, b.client)
	if err != nil {
		return trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot reach the cluster: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	defer res.Body.Close()
	if res.IsError() {
		return trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cluster info request returned %s", res.Status()),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			nil,
		)
	}

	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot decode the cluster info response: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	major, _, _ := strings.Cut(info.Version.Number, ".")
	version, err := strconv.Atoi(major)
	if err != nil {
		return trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot parse cluster version %q", info.Version.Number),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	b.majorVersion = version
	log.Printf("cluster major version %d", version)
	return nil
}

// PerformedUsers returns the names of IAM users that appear as actors in the
// logs within the date window.
func (b *Backend) PerformedUsers(ctx context.Context) (map[string]bool, error) {
	body, err := b.principalsBody("user_names", "userIdentity.userName")
	if err != nil {
		return nil, err
	}
	res, err := b.search(ctx, body)
	if err != nil {
		return nil, err
	}

	users := make(map[string]bool)
	for _, user := range res.Aggregations["user_names"].Buckets {
		// Logging in with a wrong username surfaces as this sentinel.
		if user.Key == "HIDDEN_DUE_TO_SECURITY_REASONS" {
			continue
		}
		users[user.Key] = true
	}
	return users, nil
}

// PerformedRoles returns the names of roles that issued sessions seen in the
// logs within the date window.
func (b *Backend) PerformedRoles(ctx context.Context) (map[string]bool, error) {
	body, err := b.principalsBody("role_names", "userIdentity.sessionContext.sessionIssuer.userName")
	if err != nil {
		return nil, err
	}
	res, err := b.search(ctx, body)
	if err != nil {
		return nil, err
	}

	roles := make(map[string]bool)
	for _, role := range res.Aggregations["role_names"].Buckets {
		roles[role.Key] = true
	}
	return roles, nil
}

// EventNamesByUser returns the normalised actions the user performed
// directly.
func (b *Backend) EventNamesByUser(ctx context.Context, userARN string) (map[string]bool, error) {
	return b.eventNames(ctx, b.matchClause("userIdentity.arn", userARN))
}

// EventNamesByRole returns the normalised actions performed in sessions
// issued by the role.
func (b *Backend) EventNamesByRole(ctx context.Context, roleARN string) (map[string]bool, error) {
	return b.eventNames(ctx, b.matchClause("userIdentity.sessionContext.sessionIssuer.arn", roleARN))
}

// EventNamesByUserInRole returns the normalised actions performed in
// sessions the user obtained by assuming destRoleARN.
func (b *Backend) EventNamesByUserInRole(ctx context.Context, userARN, destRoleARN string) (map[string]bool, error) {
	return b.eventNamesByAssumedRole(ctx, "userIdentity.arn", userARN, destRoleARN)
}

// EventNamesByRoleInRole returns the normalised actions performed in
// sessions obtained by assuming destRoleARN from srcRoleARN.
func (b *Backend) EventNamesByRoleInRole(ctx context.Context, srcRoleARN, destRoleARN string) (map[string]bool, error) {
	return b.eventNamesByAssumedRole(ctx, "userIdentity.sessionContext.sessionIssuer.arn", srcRoleARN, destRoleARN)
}

// eventNames runs the nested event/service aggregation for the given match
// clauses and normalises the buckets into action names.
func (b *Backend) eventNames(ctx context.Context, matches ...map[string]any) (map[string]bool, error) {
	body, err := b.eventNamesBody(matches...)
	if err != nil {
		return nil, err
	}
	res, err := b.search(ctx, body)
	if err != nil {
		return nil, err
	}
	return eventsFromBuckets(res.Aggregations["event_names"].Buckets), nil
}

// eventsFromBuckets turns event-name buckets into normalised action names.
// The first nested service bucket names the event source.
func eventsFromBuckets(buckets []bucket) map[string]bool {
	events := make(map[string]bool)
	for _, event := range buckets {
		if event.ServiceNames == nil || len(event.ServiceNames.Buckets) == 0 {
			continue
		}
		service, _, _ := strings.Cut(event.ServiceNames.Buckets[0].Key, ".")
		events[catalog.Normalize(service, event.Key)] = true
	}
	return events
}

// eventNamesByAssumedRole scans the AssumeRole events from the source
// principal into the destination role and unions the events performed under
// each session key those assumptions minted.
//
// TODO: correlate on sharedEventID as well; cross-account assumptions do not
// carry the access key in the local trail.
func (b *Backend) eventNamesByAssumedRole(ctx context.Context, sourceField, sourceARN, destRoleARN string) (map[string]bool, error) {
	keys, err := b.sessionKeys(ctx, sourceField, sourceARN, destRoleARN)
	if err != nil {
		return nil, err
	}

	events := make(map[string]bool)
	for _, key := range keys {
		found, err := b.eventNames(ctx,
			b.matchClause("userIdentity.accessKeyId", key),
			b.matchClause("userIdentity.sessionContext.sessionIssuer.arn", destRoleARN),
		)
		if err != nil {
			return nil, err
		}
		for event := range found {
			events[event] = true
		}
	}
	return events, nil
}

// sessionKeys scrolls the matching AssumeRole events and collects the
// distinct access keys they minted. Role-to-role chains can carry millions
// of assumptions, so progress is logged every thousand.
func (b *Backend) sessionKeys(ctx context.Context, sourceField, sourceARN, destRoleARN string) ([]string, error) {
	body, err := b.assumeRoleBody(sourceField, sourceARN, destRoleARN)
	if err != nil {
		return nil, err
	}

	res, err := b.do(ctx, opensearchapi.SearchRequest{
		Index:  []string{b.index},
		Body:   bytes.NewReader(body),
		Scroll: scrollKeepAlive,
	})
	if err != nil {
		return nil, err
	}

	var keys []string
	seen := make(map[string]bool)
	scanned := 0
	scrollID := res.ScrollID
	for len(res.Hits.Hits) > 0 {
		for _, hit := range res.Hits.Hits {
			scanned++
			if scanned%1000 == 0 {
				log.Printf("%d role assumptions scanned so far...", scanned)
			}
			key := hit.Source.ResponseElements.Credentials.AccessKeyID
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}

		res, err = b.do(ctx, opensearchapi.ScrollRequest{
			ScrollID: scrollID,
			Scroll:   scrollKeepAlive,
		})
		if err != nil {
			b.clearScroll(ctx, scrollID)
			return nil, err
		}
		if res.ScrollID != "" {
			scrollID = res.ScrollID
		}
	}
	b.clearScroll(ctx, scrollID)
	return keys, nil
}

// clearScroll releases the cluster-side scroll state. Best effort.
func (b *Backend) clearScroll(ctx context.Context, scrollID string) {
	if scrollID == "" {
		return
	}
	res, err := opensearchapi.ClearScrollRequest{ScrollID: []string{scrollID}}.Do(ctx, b.client)
	if err != nil {
		log.Printf("WARNING: cannot clear scroll: %v", err)
		return
	}
	res.Body.Close()
}

// requester abstracts the opensearchapi request types, which all share the
// same Do shape.
type requester interface {
	Do(ctx context.Context, transport opensearchapi.Transport) (*opensearchapi.Response, error)
}

// search runs one non-scrolling query.
func (b *Backend) search(ctx context.Context, body []byte) (*searchResponse, error) {
	return b.do(ctx, opensearchapi.SearchRequest{
		Index: []string{b.index},
		Body:  bytes.NewReader(body),
	})
}

// do executes a request and decodes the response envelope.
func (b *Backend) do(ctx context.Context, req requester) (*searchResponse, error) {
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendQueryFailed,
			fmt.Sprintf("search request failed: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendQueryFailed),
			err,
		)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendQueryFailed,
			fmt.Sprintf("cluster returned %s", res.Status()),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendQueryFailed),
			nil,
		)
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendQueryFailed,
			fmt.Sprintf("cannot decode the search response: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendQueryFailed),
			err,
		)
	}
	return &out, nil
}

// bucket is one terms-aggregation entry, with the nested service aggregation
// when the query asked for it.
type bucket struct {
	Key          string      `json:"key"`
	ServiceNames *bucketList `json:"service_names"`
}

type bucketList struct {
	Buckets []bucket `json:"buckets"`
}

// searchResponse is the slice of the response envelope the backend reads:
// aggregation buckets for activity queries, hits and the scroll cursor for
// the AssumeRole scan.
type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source assumeRoleEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]bucketList `json:"aggregations"`
}

// assumeRoleEvent is the part of an AssumeRole document that correlates the
// assumption with the session it starts.
type assumeRoleEvent struct {
	ResponseElements struct {
		Credentials struct {
			AccessKeyID string `json:"accessKeyId"`
		} `json:"credentials"`
	} `json:"responseElements"`
}
