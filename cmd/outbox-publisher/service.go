package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/metrics"
	"github.com/angelmondragon/settlement-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
	retryBase             = 5 * time.Second
	maxRetryDelay         = 10 * time.Minute
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAfter time.Duration) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error) error
	DeferTx(tx *gorm.DB, id uuid.UUID, until time.Time) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type deliveryMetrics interface {
	ObserveDelivery(eventType, outcome string, duration time.Duration)
	ObserveLag(createdAt, publishedAt time.Time)
}

type publisherFactory func(topic string) publisher

// publisher sends ordered messages. After a failed publish the ordering key is
// paused until Resume is called for it.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Resume(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	Metrics          deliveryMetrics
	PublisherFactory publisherFactory
}

// Service relays order events from outbox_events to Pub/Sub. Events that share
// an order are published in insertion order under the order id as ordering key.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	repo         outboxRepository
	registry     registryResolver
	metrics      deliveryMetrics
	publisherFor publisherFactory
	publishers   *topicPublishers
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

// batchReport tallies one drain pass.
type batchReport struct {
	Fetched   int
	Published int
	Retried   int
	Deferred  int
	Parked    int
}

func (r batchReport) idle() bool { return r.Fetched == 0 }

func NewService(params ServiceParams) (*Service, error) {
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
	} {
		if dep.missing {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		registry:     params.Registry,
		metrics:      params.Metrics,
		publisherFor: params.PublisherFactory,
		batchSize:    positiveOr(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(params.Config.Outbox.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		now:          time.Now,
	}
	if svc.metrics == nil {
		svc.metrics = (*metrics.OutboxMetrics)(nil)
	}
	if svc.publisherFor == nil {
		svc.publishers = newTopicPublishers(params.PubSub)
		svc.publisherFor = svc.publishers.get
	}
	return svc, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) checkDependencies(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	}
	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			s.logg.Error(ctx, check.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", check.name, err)
		}
	}
	return nil
}

// Run drains the outbox until ctx is canceled. Failed passes back off
// exponentially; an idle pass waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checkDependencies(ctx); err != nil {
		return err
	}
	if s.publishers != nil {
		defer s.publishers.stop()
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		report, err := s.drainOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox drain failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = withJitter(backoff)
		case report.idle():
			backoff = s.pollInterval
			wait = withJitter(s.pollInterval)
		default:
			backoff = s.pollInterval
			s.logg.Debug(s.logg.WithFields(ctx, report.fields()), "outbox batch drained")
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// drainOnce locks a batch of due rows and settles each one inside the same
// transaction. Row-level publish failures are recorded, not returned.
func (s *Service) drainOnce(ctx context.Context) (batchReport, error) {
	var report batchReport
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		report.Fetched = len(events)

		// held maps an order to the time its failed event is due again.
		held := make(map[uuid.UUID]time.Time)
		for _, event := range events {
			if err := s.deliver(ctx, tx, event, held, &report); err != nil {
				return err
			}
		}
		return nil
	})
	return report, err
}

func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, held map[uuid.UUID]time.Time, report *batchReport) error {
	eventType := string(event.EventType)

	if until, ok := held[event.AggregateID]; ok {
		if err := s.repo.DeferTx(tx, event.ID, until); err != nil {
			return fmt.Errorf("defer %s: %w", event.ID, err)
		}
		report.Deferred++
		s.metrics.ObserveDelivery(eventType, metrics.DeliveryDeferred, 0)
		return nil
	}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.park(ctx, tx, event, nil, "non_retryable", err, report)
	}

	started := s.now()
	err = s.publish(ctx, event, resolved)
	elapsed := s.now().Sub(started)

	switch {
	case err == nil:
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		report.Published++
		s.metrics.ObserveDelivery(eventType, metrics.DeliveryPublished, elapsed)
		s.metrics.ObserveLag(event.CreatedAt, s.now())
		s.logg.Info(s.logg.WithFields(ctx, logFields(event, resolved)), "order event published")
		return nil
	case registry.IsNonRetryable(err):
		return s.park(ctx, tx, event, resolved, "non_retryable", err, report)
	}

	attempt := event.AttemptCount + 1
	if attempt >= s.maxAttempts {
		return s.park(ctx, tx, event, resolved, "max_attempts", fmt.Errorf("max publish attempts reached: %w", err), report)
	}

	delay := retryDelay(attempt)
	if markErr := s.repo.MarkFailedTx(tx, event.ID, err, delay); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	held[event.AggregateID] = s.now().Add(delay)
	report.Retried++
	s.metrics.ObserveDelivery(eventType, metrics.DeliveryRetry, elapsed)

	fields := logFields(event, resolved)
	fields["attempt_count"] = attempt
	fields["retry_in"] = delay.String()
	fields["error"] = err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "order event publish failed")
	return nil
}

// park marks the row terminal. Parked rows stay for operators and do not hold
// back later events of the same order.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, resolved *registry.ResolvedEvent, reason string, cause error, report *batchReport) error {
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	report.Parked++
	s.metrics.ObserveDelivery(string(event.EventType), metrics.DeliveryTerminal, 0)

	fields := logFields(event, resolved)
	fields["terminal_reason"] = reason
	s.logg.Error(s.logg.WithFields(ctx, fields), "order event parked", cause)
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes:  messageAttributes(event, resolved),
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.Resume(msg.OrderingKey)
		return err
	}
	return nil
}

// messageAttributes carries routing data so subscribers can filter on the
// settlement facts without decoding the payload.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	put := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}
	switch p := resolved.Payload.(type) {
	case *payloads.OrderCreatedEvent:
		put("buyer_id", p.BuyerID.String())
		put("currency", string(p.Currency))
		put("provider_order_id", p.ProviderOrderID)
	case *payloads.OrderPaidEvent:
		put("buyer_id", p.BuyerID.String())
		put("currency", string(p.Currency))
		put("provider_transaction_id", p.ProviderTransactionID)
		put("settlement_source", p.Source)
	case *payloads.OrderReconciliationRequiredEvent:
		put("buyer_id", p.BuyerID.String())
		put("currency", string(p.Currency))
		put("provider_transaction_id", p.ProviderTransactionID)
		put("reconciliation_reason", p.Reason)
	}
	return attrs
}

func logFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"order_id":      event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	return fields
}

func (r batchReport) fields() map[string]any {
	return map[string]any{
		"fetched":   r.Fetched,
		"published": r.Published,
		"retried":   r.Retried,
		"deferred":  r.Deferred,
		"parked":    r.Parked,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, ceiling)
}

// retryDelay doubles per attempt starting at retryBase.
func retryDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

// topicPublishers keeps one ordered publisher per topic for the process
// lifetime so batching and ordering state survive across drains.
type topicPublishers struct {
	mu      sync.Mutex
	client  pubSubClient
	byTopic map[string]*gcppubsub.Publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, byTopic: make(map[string]*gcppubsub.Publisher)}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byTopic[topic]
	if !ok {
		p = t.client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		t.byTopic[topic] = p
	}
	return orderedPublisher{p}
}

// stop flushes pending messages on every topic.
func (t *topicPublishers) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, p := range t.byTopic {
		p.Stop()
		delete(t.byTopic, topic)
	}
}

type orderedPublisher struct {
	p *gcppubsub.Publisher
}

func (o orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return o.p.Publish(ctx, msg)
}

func (o orderedPublisher) Resume(orderingKey string) {
	o.p.ResumePublish(orderingKey)
}
