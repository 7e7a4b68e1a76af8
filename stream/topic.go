package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xraph/conductor/job"
)

// Topic names:
//
//	job:<jobID>         events for one job
//	priority:<lane>     job events for one priority lane
//	jobs                every job event
//	deliveries          every webhook delivery event
//	firehose            everything
const (
	TopicJobs       = "jobs"
	TopicDeliveries = "deliveries"
	TopicFirehose   = "firehose"
)

// JobTopic returns the topic for one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// PriorityTopic returns the topic for one priority lane.
func PriorityTopic(p job.Priority) string { return "priority:" + string(p) }

// TopicRegistry manages subscriber sets per topic. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast sends evt once to every subscriber on any of topics and returns
// how many accepted it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of topics with subscribers.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "delivery.") {
		topics = append(topics, TopicDeliveries)
	} else {
		topics = append(topics, TopicJobs)
		if evt.Priority != "" {
			topics = append(topics, PriorityTopic(job.Priority(evt.Priority)))
		}
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ValidateTopic checks a topic name.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicDeliveries, TopicFirehose:
		return nil
	}

	kind, value, found := strings.Cut(topic, ":")
	if !found || value == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "job":
		return nil
	case "priority":
		if _, ok := job.ParsePriority(value); ok {
			return nil
		}
		return fmt.Errorf("stream: unknown priority in topic %q", topic)
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}
