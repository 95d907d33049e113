package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"credvault/internal/event"
	"credvault/internal/platform/rabbitmq"
)

type ActivityRecorder interface {
	Append(ctx context.Context, evt event.AuthEvent) error
}

// AuthEventWorker drains the auth event queue into the activity feed.
type AuthEventWorker struct {
	conn      *amqp.Connection
	recorder  ActivityRecorder
	queueName string
	log       logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAuthEventWorker(conn *amqp.Connection, recorder ActivityRecorder, queueName string, log logrus.FieldLogger) *AuthEventWorker {
	return &AuthEventWorker{
		conn:      conn,
		recorder:  recorder,
		queueName: queueName,
		log:       log.WithField("component", "auth_event_worker"),
	}
}

func (w *AuthEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.log.WithError(err).Warn("drop auth event")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *AuthEventWorker) handle(ctx context.Context, body []byte) error {
	var evt event.AuthEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode auth event failed: %w", err)
	}
	if evt.Type == "" {
		return fmt.Errorf("auth event without type")
	}
	if err := w.recorder.Append(ctx, evt); err != nil {
		return fmt.Errorf("record auth event failed: %w", err)
	}
	return nil
}

func (w *AuthEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
