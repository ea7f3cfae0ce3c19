// Package feed turns record store change events into refetch triggers.
package feed

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/pkg/logger"
	"tasksync/pkg/metrics"
	"tasksync/pkg/mq"
	"tasksync/pkg/outbox"
)

// BindingKey matches every collection's change events.
const BindingKey = "records.*.changed"

// Refresher schedules a refetch of a collection.
type Refresher interface {
	Trigger(c model.Collection)
}

type ChangeHandler struct {
	refresher Refresher
	logger    *zap.Logger
}

func NewChangeHandler(refresher Refresher, l *zap.Logger) *ChangeHandler {
	return &ChangeHandler{refresher: refresher, logger: logger.OrNop(l)}
}

// Handle triggers a refetch of the collection named by the routing key, or
// by the payload when the key does not name one. Unknown collections are
// acked and ignored.
func (h *ChangeHandler) Handle(ctx context.Context, routingKey string, data json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	coll, ok := collectionFromKey(routingKey)
	if !ok {
		var ev outbox.ChangeEvent
		if err := json.Unmarshal(data, &ev); err == nil {
			coll, ok = model.ParseCollection(ev.Collection)
		}
	}
	if !ok {
		log.Debug("Ignoring change event for unknown collection", zap.String("routing_key", routingKey))
		return nil
	}

	metrics.RecordChangeFeedEvent(string(coll))
	log.Debug("Change event received", zap.String("collection", string(coll)))
	h.refresher.Trigger(coll)
	return nil
}

func collectionFromKey(key string) (model.Collection, bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 3 || parts[0] != "records" || parts[2] != "changed" {
		return "", false
	}
	return model.ParseCollection(parts[1])
}

// Subscriber consumes the change feed on an exclusive queue for as long as
// the client is connected.
type Subscriber struct {
	consumer *mq.Consumer
	logger   *zap.Logger
}

func NewSubscriber(url string, refresher Refresher, l *zap.Logger) (*Subscriber, error) {
	l = logger.OrNop(l)
	consumer, err := mq.NewConsumer(url, "", BindingKey, mq.ConsumerOptions{Exclusive: true}, l)
	if err != nil {
		return nil, err
	}
	consumer.SetHandler(NewChangeHandler(refresher, l).Handle)
	return &Subscriber{consumer: consumer, logger: l}, nil
}

// Run blocks until ctx is done or the broker closes the stream.
func (s *Subscriber) Run(ctx context.Context) {
	if err := s.consumer.StartConsuming(ctx); err != nil {
		s.logger.Warn("Change feed stopped", zap.Error(err))
	}
}

func (s *Subscriber) Close() {
	s.consumer.Close()
}
