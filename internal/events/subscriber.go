package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"

	"github.com/franckalain/snapnourish/internal/metrics"
	"github.com/franckalain/snapnourish/internal/models"
)

// HandlerFunc processes one message body
type HandlerFunc func(ctx context.Context, body []byte) error

// Subscriber consumes upload notifications from a durable AMQP queue.
// Deliveries are never requeued: a failed analysis is nacked and dropped.
type Subscriber struct {
	amqpURL  string
	queue    string
	prefetch int

	// mu guards conn and channel; amqp.Channel is not safe for concurrent use
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	startOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSubscriber connects to amqpURL and declares queue
func NewSubscriber(amqpURL, queue string, prefetch int) (*Subscriber, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	s := &Subscriber{
		amqpURL:  amqpURL,
		queue:    queue,
		prefetch: prefetch,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	err := s.connectLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// connectLocked (re)creates the connection and channel. Caller must hold s.mu.
func (s *Subscriber) connectLocked() error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		metrics.AMQPConnected.Set(0)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		metrics.AMQPConnected.Set(0)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		metrics.AMQPConnected.Set(0)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		metrics.AMQPConnected.Set(0)
		return fmt.Errorf("failed to set qos: %w", err)
	}

	s.conn = conn
	s.channel = ch
	metrics.AMQPConnected.Set(1)
	return nil
}

// Start consumes the queue with prefetch workers until Close is called.
// The consumer reconnects with backoff if the broker goes away.
func (s *Subscriber) Start(ctx context.Context, handle HandlerFunc) {
	s.startOnce.Do(func() {
		jobs := make(chan amqp.Delivery, s.prefetch)

		for i := 0; i < s.prefetch; i++ {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				for d := range jobs {
					s.process(ctx, handle, d)
				}
			}()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consume(jobs)
		}()
	})
}

func (s *Subscriber) consume(jobs chan<- amqp.Delivery) {
	defer close(jobs)
	backoff := time.Second

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		// Close may have run while this goroutine was sleeping or dialing
		select {
		case <-s.done:
			s.mu.Unlock()
			return
		default:
		}
		if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
			if err := s.connectLocked(); err != nil {
				s.mu.Unlock()
				log.WithError(err).Warnf("rabbitmq reconnect failed, retrying in %s", backoff)
				if !s.sleep(backoff) {
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
		}
		msgs, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
		if err != nil {
			// force a fresh connection on the next attempt
			s.channel = nil
		}
		s.mu.Unlock()
		if err != nil {
			metrics.AMQPConnected.Set(0)
			log.WithError(err).Warnf("rabbitmq consume failed queue=%s", s.queue)
			if !s.sleep(backoff) {
				return
			}
			continue
		}

		log.Infof("rabbitmq consuming queue=%s workers=%d", s.queue, s.prefetch)
		backoff = time.Second

	deliveries:
		for {
			select {
			case <-s.done:
				return
			case d, ok := <-msgs:
				if !ok {
					metrics.AMQPConnected.Set(0)
					log.Warnf("rabbitmq delivery channel closed queue=%s; reconnecting", s.queue)
					break deliveries
				}
				jobs <- d
			}
		}
	}
}

func (s *Subscriber) sleep(d time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(d):
		return true
	}
}

// process runs handle and settles the delivery. Malformed and ignored
// messages are acked; anything else that failed is nacked without requeue.
func (s *Subscriber) process(ctx context.Context, handle HandlerFunc, d amqp.Delivery) {
	started := time.Now()
	err := handle(ctx, d.Body)

	action := "ack"
	var settleErr error
	if err == nil || errors.Is(err, ErrIgnored) || models.KindOf(err) == models.KindValidation {
		settleErr = d.Ack(false)
	} else {
		action = "nack"
		settleErr = d.Nack(false, false)
	}

	entry := log.WithFields(log.Fields{
		"queue":        s.queue,
		"delivery_tag": d.DeliveryTag,
		"action":       action,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	if settleErr != nil {
		entry = entry.WithField("settle_error", settleErr.Error())
	}
	if err != nil {
		entry.WithError(err).Info("rabbitmq message settled")
		return
	}
	entry.Debug("rabbitmq message settled")
}

// Close stops consuming, waits for the consumer and in-flight messages, then
// closes the connection
func (s *Subscriber) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.channel != nil {
		err = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
		s.conn = nil
	}
	metrics.AMQPConnected.Set(0)
	return err
}
