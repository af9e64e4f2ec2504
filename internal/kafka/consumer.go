package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/scout-progress/internal/config"
	"github.com/scout-progress/internal/domain"
)

// VerificationHandler applies supervisor verification events
type VerificationHandler interface {
	VerifySubmissionBatch(ctx context.Context, events []domain.VerificationEvent) (int, error)
}

// Consumer consumes verification events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       VerificationHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler VerificationHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// verifications must not be skipped when the group starts fresh
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// DecodeEvent parses and validates a verification event
func DecodeEvent(value []byte) (domain.VerificationEvent, error) {
	var ev domain.VerificationEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, fmt.Errorf("decoding verification event: %w", err)
	}
	if ev.SubmissionID == "" || ev.VerifierID == "" {
		return ev, fmt.Errorf("submission_id and verifier_id are required: %w", domain.ErrInvalidRequest)
	}
	return ev, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler VerificationHandler
	logger  *slog.Logger
	ready   chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.ready != nil {
		close(h.ready)
	}
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches events from a partition. Offsets are marked only after
// the batch was applied, so a crash replays the batch; marking a submission
// verified twice is harmless. A batch that failed for any reason other than a
// missing submission or an invalid event leaves its offsets unmarked and ends
// the claim, and the group session replays it from the last committed offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.config
	batch := make([]domain.VerificationEvent, 0, cfg.BatchSize)
	pending := make([]*sarama.ConsumerMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			applied, err := h.handler.VerifySubmissionBatch(ctx, batch)
			cancel()
			switch {
			case err == nil:
				h.logger.Debug("processed batch", "batch_size", len(batch))
			case permanentFailure(err):
				h.logger.Warn("skipping verification events that cannot be applied",
					"error", err,
					"batch_size", len(batch),
					"applied", applied,
				)
			default:
				h.logger.Error("failed to apply verification batch, leaving offsets for replay",
					"error", err,
					"batch_size", len(batch),
					"applied", applied,
				)
				return fmt.Errorf("applying verification batch: %w", err)
			}
		}

		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}
		batch = batch[:0]
		pending = pending[:0]
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return processBatch()

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}

			pending = append(pending, message)
			ev, err := DecodeEvent(message.Value)
			if err != nil {
				h.logger.Warn("skipping verification message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			batch = append(batch, ev)

			if len(batch) >= cfg.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// permanentFailure reports whether every error joined into err would fail
// the same way on replay
func permanentFailure(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !permanentFailure(e) {
				return false
			}
		}
		return true
	}
	return domain.IsNotFoundError(err) || domain.IsValidationError(err)
}
