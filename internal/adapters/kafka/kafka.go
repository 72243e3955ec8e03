package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

const clientID = "lexidraft-realtime"

func newConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0
	config.ClientID = clientID
	return config
}

// InitKafkaProducer builds a synchronous producer that waits for every
// in-sync replica and hashes keys onto partitions.
func InitKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := newConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// Producer publishes JSON values to one topic.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

// Publish sends value as JSON, keyed so related events share a partition.
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	slog.Debug("Published kafka message", "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

// Forward copies a consumed record, key and value untouched, onto the
// producer's topic. Headers record where it came from and why it failed.
func (p *Producer) Forward(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	headers := []sarama.RecordHeader{
		{Key: []byte("x-origin-topic"), Value: []byte(msg.Topic)},
		{Key: []byte("x-origin-partition"), Value: []byte(strconv.Itoa(int(msg.Partition)))},
		{Key: []byte("x-origin-offset"), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		{Key: []byte("x-error"), Value: []byte(cause.Error())},
	}
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.ByteEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Headers:   headers,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("forward to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// InitConsumerGroup joins groupID, starting from the oldest offset when the
// group has no committed position.
func InitConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	config := newConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return group, nil
}

// MessageHandler processes one record. An error that reports Permanent() true
// is dead-lettered and the record is marked; any other error stops the
// partition at that record so it is redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

// DeadLetter receives records that can never be handled.
type DeadLetter interface {
	Forward(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error
}

const defaultRetryBackoff = 2 * time.Second

// Consumer runs a consumer group over a set of topics until its context ends.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *groupHandler
}

// NewConsumer builds a consumer. deadLetter may be nil, in which case
// permanent failures are logged and skipped.
func NewConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, deadLetter DeadLetter) *Consumer {
	h := &groupHandler{
		handle:       handler,
		deadLetter:   deadLetter,
		retryBackoff: defaultRetryBackoff,
	}
	return &Consumer{group: group, topics: topics, handler: h}
}

// Run blocks, rejoining the group after every rebalance, until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			slog.Error("Kafka consumer error", "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			slog.Error("Kafka consume failed", "topics", c.topics, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	handle       MessageHandler
	deadLetter   DeadLetter
	retryBackoff time.Duration
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles records in partition order and marks each one only
// once it is handled or dead-lettered. On a retryable failure it rewinds to
// the failed record, waits, and returns; returning ends the session and the
// group resumes from that record on rejoin.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(session.Context(), msg); err != nil {
				slog.Error("Failed to handle kafka message, will retry",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				session.ResetOffset(msg.Topic, msg.Partition, msg.Offset, "")
				select {
				case <-session.Context().Done():
				case <-time.After(h.retryBackoff):
				}
				return fmt.Errorf("kafka message %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// process returns nil once msg may be marked.
func (h *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	err := h.handle(ctx, msg.Key, msg.Value)
	if err == nil || !isPermanent(err) {
		return err
	}
	if h.deadLetter == nil {
		slog.Warn("Skipping unprocessable kafka message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}
	if ferr := h.deadLetter.Forward(ctx, msg, err); ferr != nil {
		return ferr
	}
	slog.Warn("Dead-lettered kafka message",
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
	return nil
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
