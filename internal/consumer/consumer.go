package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/services"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	decisionTimeout      = 30 * time.Second
)

type Config struct {
	URL      string
	Queue    string
	Prefetch int
	Workers  int
}

// DecisionMessage is a back-office approval decision for a pending deposit
// or withdrawal entry.
type DecisionMessage struct {
	EventID string `json:"event_id"`
	EntryID string `json:"entry_id"`
	Action  string `json:"action"` // approve | reject
	Reason  string `json:"reason,omitempty"`
}

// Consumer applies back-office approval decisions from RabbitMQ to the
// wallet ledger. Domain rejections (entry already terminal, unknown entry)
// are acked: redelivery cannot make them succeed. Transport and storage
// failures are nacked for retry.
type Consumer struct {
	cfg    Config
	log    *logrus.Logger
	intake *services.IntakeService

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log *logrus.Logger, intake *services.IntakeService) (*Consumer, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:    cfg,
		log:    log,
		intake: intake,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithField("queue", c.cfg.Queue).Info("connected to RabbitMQ")

	go c.monitorConnection()

	return nil
}

func (c *Consumer) monitorConnection() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error))

	select {
	case err := <-notifyClose:
		if err != nil {
			c.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")
			c.reconnect()
		}
	case <-c.ctx.Done():
		return
	}
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")

		if err := c.connect(); err == nil {
			c.log.Info("successfully reconnected to RabbitMQ")
			go func() {
				if err := c.Start(c.ctx); err != nil && c.ctx.Err() == nil {
					c.log.WithError(err).Error("failed to restart consumer after reconnect")
				}
			}()
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}

	c.log.Error("max reconnection attempts reached, giving up")
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("workers", c.cfg.Workers).Info("starting decision workers")

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping decision workers")
	c.wg.Wait()

	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("worker_id", workerID).Warn("message channel closed")
				return
			}
			c.processMessage(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()

	var decision DecisionMessage
	if err := json.Unmarshal(msg.Body, &decision); err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"error":     err,
		}).Error("malformed decision message, dropping")
		msg.Ack(false)
		return
	}

	var err error
	switch decision.Action {
	case "approve":
		_, err = c.intake.Approve(ctx, decision.EntryID)
	case "reject":
		_, err = c.intake.Reject(ctx, decision.EntryID, decision.Reason)
	default:
		c.log.WithFields(logrus.Fields{
			"event_id": decision.EventID,
			"action":   decision.Action,
		}).Error("unknown decision action, dropping")
		msg.Ack(false)
		return
	}

	if err != nil {
		if isTerminalDecisionError(err) {
			c.log.WithFields(logrus.Fields{
				"event_id": decision.EventID,
				"entry_id": decision.EntryID,
				"error":    err,
			}).Warn("decision rejected by ledger, acking")
			msg.Ack(false)
			return
		}
		c.log.WithFields(logrus.Fields{
			"event_id": decision.EventID,
			"entry_id": decision.EntryID,
			"error":    err,
		}).Error("decision processing failed, nacking for retry")
		msg.Nack(false, true)
		return
	}

	c.log.WithFields(logrus.Fields{
		"event_id": decision.EventID,
		"entry_id": decision.EntryID,
		"action":   decision.Action,
	}).Info("decision applied")
	msg.Ack(false)
}

// isTerminalDecisionError reports whether retrying the decision can ever
// succeed. Duplicate deliveries land here via InvalidTransitionError once
// the entry is terminal.
func isTerminalDecisionError(err error) bool {
	var invalid *services.InvalidTransitionError
	var insufficient *services.InsufficientFundsError
	return errors.Is(err, services.ErrEntryNotFound) ||
		errors.As(err, &invalid) ||
		errors.As(err, &insufficient)
}

func (c *Consumer) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
