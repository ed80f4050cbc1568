package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/bulkgc/internal/logging"
)

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string

	// CreateTopic creates Topic on start when it does not exist.
	CreateTopic       bool
	Partitions        int32
	ReplicationFactor int16

	// ConnectTimeout bounds the retries of topic creation.
	// Default: 30s
	ConnectTimeout time.Duration
}

// KafkaPublisher produces events as JSON records keyed by command id.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	log    *logging.Logger
}

// NewKafkaPublisher connects to the brokers and optionally creates the
// topic, retrying with exponential backoff while the cluster comes up.
func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig, log *logging.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("notify: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("notify: no topic configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "bulkgc"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Global()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: create client: %w", err)
	}

	p := &KafkaPublisher{client: client, topic: cfg.Topic, log: log.Named("notify")}
	if cfg.CreateTopic {
		if err := p.ensureTopic(ctx, cfg); err != nil {
			client.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *KafkaPublisher) ensureTopic(ctx context.Context, cfg KafkaConfig) error {
	admin := kadm.NewClient(p.client)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout

	operation := func() error {
		resp, err := admin.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, nil, cfg.Topic)
		if err != nil {
			p.log.Warnf("create topic failed, retrying", map[string]any{"topic": cfg.Topic, "error": err.Error()})
			return err
		}
		for _, r := range resp {
			if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
				return backoff.Permanent(fmt.Errorf("create topic %s: %w", r.Topic, r.Err))
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("notify: ensure topic: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.CommandID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("notify: produce: %w", err)
	}
	return nil
}

// Close flushes pending records and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}

var _ Publisher = (*KafkaPublisher)(nil)
