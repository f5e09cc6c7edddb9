package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cityfix-analyze-pipeline/metrics"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// Message represents a received RabbitMQ message.
type Message struct {
	Body        []byte
	RoutingKey  string
	Exchange    string
	ContentType string
	Timestamp   time.Time
	DeliveryTag uint64
}

// CallbackFunc processes a message. Return:
// - nil on success (will Ack)
// - Permanent(err) for permanent failure (will Nack requeue=false)
// - any other error for transient failure (will Nack requeue=true)
type CallbackFunc func(ctx context.Context, msg *Message) error

// PermanentError marks a message processing failure as non-retriable.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError (non-retriable).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func isPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// Subscriber is a RabbitMQ subscriber dispatching deliveries to
// per-routing-key callbacks through a bounded worker pool.
type Subscriber struct {
	amqpURL  string
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	prefetch int
	workers  int

	// opMu serializes amqp operations on channel since amqp.Channel is
	// not safe for concurrent use.
	opMu sync.Mutex

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSubscriber connects and declares the exchange and queue, failing
// fast if RabbitMQ is unreachable.
func NewSubscriber(amqpURL, exchangeName, queueName string, prefetchCount int) (*Subscriber, error) {
	s := &Subscriber{
		amqpURL:  amqpURL,
		exchange: exchangeName,
		queue:    queueName,
		prefetch: prefetchCount,
		workers:  prefetchCount,
	}
	if s.workers <= 0 {
		s.workers = 1
	}

	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) connect() error {
	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	s.queue = q.Name

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.conn = conn
	s.channel = ch
	metrics.RabbitMQConnected.Set(1)
	return nil
}

// Start binds the queue to the given routing keys and begins
// consuming. Callbacks run on a pool of worker goroutines; ack/nack
// happens after the callback completes.
func (s *Subscriber) Start(routingKeyCallbacks map[string]CallbackFunc) error {
	var startErr error
	s.startOnce.Do(func() {
		for key := range routingKeyCallbacks {
			if err := s.channel.QueueBind(s.queue, key, s.exchange, false, nil); err != nil {
				startErr = fmt.Errorf("failed to bind queue to %s: %w", key, err)
				return
			}
		}

		deliveries, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
		if err != nil {
			startErr = fmt.Errorf("failed to start consuming: %w", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		jobs := make(chan amqp.Delivery, s.workers)
		for i := 0; i < s.workers; i++ {
			workerID := i + 1
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				for delivery := range jobs {
					s.process(ctx, workerID, delivery, routingKeyCallbacks)
				}
			}()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(jobs)
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						metrics.RabbitMQConnected.Set(0)
						log.Warn("RabbitMQ delivery channel closed")
						return
					}
					jobs <- delivery
				}
			}
		}()
	})
	return startErr
}

func (s *Subscriber) process(ctx context.Context, workerID int, delivery amqp.Delivery, callbacks map[string]CallbackFunc) {
	startedAt := time.Now()
	metrics.RabbitMQLastDeliverySeconds.Set(float64(startedAt.Unix()))
	metrics.WorkerInFlight.Inc()
	defer metrics.WorkerInFlight.Dec()

	msg := &Message{
		Body:        delivery.Body,
		RoutingKey:  delivery.RoutingKey,
		Exchange:    delivery.Exchange,
		ContentType: delivery.ContentType,
		Timestamp:   delivery.Timestamp,
		DeliveryTag: delivery.DeliveryTag,
	}

	callback, exists := callbacks[delivery.RoutingKey]
	if !exists {
		s.nack(delivery, false)
		metrics.ProcessedTotal.WithLabelValues("permanent_error").Inc()
		log.Warnf("rabbitmq worker=%d no callback for routing key %s, dropping delivery %d",
			workerID, delivery.RoutingKey, delivery.DeliveryTag)
		return
	}

	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = Permanent(fmt.Errorf("callback panic: %v", r))
			}
		}()
		callbackErr = callback(ctx, msg)
	}()

	switch {
	case callbackErr == nil:
		s.ack(delivery)
		metrics.ProcessedTotal.WithLabelValues("success").Inc()
	case isPermanent(callbackErr):
		s.nack(delivery, false)
		metrics.ProcessedTotal.WithLabelValues("permanent_error").Inc()
		log.WithError(callbackErr).Errorf("rabbitmq worker=%d permanent failure for %s delivery %d",
			workerID, delivery.RoutingKey, delivery.DeliveryTag)
	default:
		s.nack(delivery, !delivery.Redelivered)
		metrics.ProcessedTotal.WithLabelValues("transient_error").Inc()
		log.WithError(callbackErr).Warnf("rabbitmq worker=%d transient failure for %s delivery %d (redelivered=%t)",
			workerID, delivery.RoutingKey, delivery.DeliveryTag, delivery.Redelivered)
	}

	log.Debugf("rabbitmq worker=%d processed %s delivery %d in %dms",
		workerID, delivery.RoutingKey, delivery.DeliveryTag, time.Since(startedAt).Milliseconds())
}

func (s *Subscriber) ack(delivery amqp.Delivery) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Warn("rabbitmq ack failed")
	}
}

func (s *Subscriber) nack(delivery amqp.Delivery, requeue bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := delivery.Nack(false, requeue); err != nil {
		log.WithError(err).Warn("rabbitmq nack failed")
	}
}

// Stop cancels in-flight callbacks, waits for workers to drain and
// closes the connection. In-flight analyses are acceptable to lose;
// unacked deliveries are redelivered on restart.
func (s *Subscriber) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.opMu.Lock()
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.opMu.Unlock()

	s.wg.Wait()
	metrics.RabbitMQConnected.Set(0)
	return nil
}
