package services

import (
	"fmt"
	"strings"

	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"
)

// RouteFamily groups event names that share a bus channel.
type RouteFamily string

const (
	FamilyAsset           RouteFamily = "ASSET"
	FamilyWorkflow        RouteFamily = "WORKFLOW"
	FamilyMediaJobCommand RouteFamily = "MEDIA_JOB_COMMAND"
	FamilyMediaJobResult  RouteFamily = "MEDIA_JOB_RESULT"
	FamilyIndex           RouteFamily = "INDEX"
)

// Families lists every route family in match order.
func Families() []RouteFamily {
	return []RouteFamily{
		FamilyAsset,
		FamilyMediaJobCommand,
		FamilyMediaJobResult,
		FamilyWorkflow,
		FamilyIndex,
	}
}

func DefaultTopics() map[RouteFamily]string {
	return map[RouteFamily]string{
		FamilyAsset:           "content.asset.events",
		FamilyWorkflow:        "content.workflow.events",
		FamilyMediaJobCommand: "content.media-job.commands",
		FamilyMediaJobResult:  "content.media-job.results",
		FamilyIndex:           "content.index.events",
	}
}

// Route is where one event is published.
type Route struct {
	Topic string
	Key   string
}

type routeRule struct {
	family   RouteFamily
	prefixes []string
	suffixes []string
}

func (r routeRule) matches(name string) bool {
	return matchAny(name, r.prefixes, strings.HasPrefix) && matchAny(name, r.suffixes, strings.HasSuffix)
}

func matchAny(name string, patterns []string, match func(string, string) bool) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if match(name, pattern) {
			return true
		}
	}
	return false
}

var routeRules = []routeRule{
	{family: FamilyAsset, prefixes: []string{"ASSET_"}},
	{family: FamilyMediaJobCommand, prefixes: []string{"MEDIA_JOB_"}, suffixes: []string{"_CREATED", "_REQUESTED"}},
	{family: FamilyMediaJobResult, prefixes: []string{"MEDIA_JOB_"}, suffixes: []string{"_SUCCEEDED", "_COMPLETED", "_FAILED"}},
	{family: FamilyWorkflow, prefixes: []string{"EPISODE_", "PUBLISH_", "WORKFLOW_", "REVIEW_"}},
	{family: FamilyIndex, prefixes: []string{"INDEX_"}},
}

// TopicResolver maps an outbox event to its channel and partition key.
// Rules are evaluated in order and the first match wins.
type TopicResolver struct {
	topics map[RouteFamily]string
}

// NewTopicResolver overlays overrides on DefaultTopics. Blank overrides are
// ignored.
func NewTopicResolver(overrides map[RouteFamily]string) (TopicResolver, error) {
	topics := DefaultTopics()
	for family, topic := range overrides {
		if _, known := topics[family]; !known {
			return TopicResolver{}, fmt.Errorf("unknown route family %q", family)
		}
		if topic = strings.TrimSpace(topic); topic != "" {
			topics[family] = topic
		}
	}
	return TopicResolver{topics: topics}, nil
}

func (r TopicResolver) ResolveTopic(event entities.OutboxEvent) (string, error) {
	name := event.EventName()
	for _, rule := range routeRules {
		if rule.matches(name) {
			return r.topic(rule.family), nil
		}
	}
	return "", &domainerrors.MappingError{
		EventID:       event.EventID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
	}
}

// ResolveKey keeps all events of one aggregate on one partition.
func (r TopicResolver) ResolveKey(event entities.OutboxEvent) string {
	return event.AggregateID
}

func (r TopicResolver) Resolve(event entities.OutboxEvent) (Route, error) {
	topic, err := r.ResolveTopic(event)
	if err != nil {
		return Route{}, err
	}
	return Route{Topic: topic, Key: r.ResolveKey(event)}, nil
}

// Topics returns every channel the resolver can route to.
func (r TopicResolver) Topics() map[RouteFamily]string {
	out := make(map[RouteFamily]string, len(routeRules))
	for _, family := range Families() {
		out[family] = r.topic(family)
	}
	return out
}

func (r TopicResolver) topic(family RouteFamily) string {
	if topic, ok := r.topics[family]; ok {
		return topic
	}
	return DefaultTopics()[family]
}
