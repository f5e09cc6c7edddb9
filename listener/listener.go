package listener

import (
	"context"
	"encoding/json"
	"fmt"

	"cityfix-analyze-pipeline/config"
	"cityfix-analyze-pipeline/models"
	"cityfix-analyze-pipeline/notifier"
	"cityfix-analyze-pipeline/rabbitmq"
	"cityfix-analyze-pipeline/service"
)

// Listener binds the report change feed to the pipeline's on-create
// and on-update handlers. The pipeline itself never sees RabbitMQ;
// any change-feed mechanism that can invoke these two callbacks works.
type Listener struct {
	cfg        *config.RabbitMQConfig
	subscriber *rabbitmq.Subscriber
	analyzer   *service.Service
	dispatcher *notifier.Dispatcher
}

// New connects the subscriber. Fails fast when the broker is
// unreachable so deployments notice immediately.
func New(cfg *config.RabbitMQConfig, analyzer *service.Service, dispatcher *notifier.Dispatcher) (*Listener, error) {
	subscriber, err := rabbitmq.NewSubscriber(cfg.GetAMQPURL(), cfg.Exchange, cfg.QueueName, cfg.PrefetchCount)
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:        cfg,
		subscriber: subscriber,
		analyzer:   analyzer,
		dispatcher: dispatcher,
	}, nil
}

// Start begins consuming report events.
func (l *Listener) Start() error {
	return l.subscriber.Start(map[string]rabbitmq.CallbackFunc{
		l.cfg.ReportCreatedRoutingKey: l.handleReportCreated,
		l.cfg.ReportUpdatedRoutingKey: l.handleReportUpdated,
	})
}

// Stop drains in-flight work and disconnects.
func (l *Listener) Stop() error {
	return l.subscriber.Stop()
}

// handleReportCreated decodes a creation event and runs the analysis
// trigger. Malformed payloads are permanent failures; the analysis
// itself absorbs its own errors and never asks for a redelivery.
func (l *Listener) handleReportCreated(ctx context.Context, msg *rabbitmq.Message) error {
	var event models.ReportCreatedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("malformed report-created payload: %w", err))
	}
	if event.Report.ID == "" {
		return rabbitmq.Permanent(fmt.Errorf("report-created payload missing report id"))
	}
	return l.analyzer.HandleReportCreated(ctx, event.Report)
}

// handleReportUpdated decodes an update event and runs the
// notification dispatcher, which swallows persistence failures itself.
func (l *Listener) handleReportUpdated(ctx context.Context, msg *rabbitmq.Message) error {
	var event models.ReportUpdatedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("malformed report-updated payload: %w", err))
	}
	if event.After.ID == "" {
		return rabbitmq.Permanent(fmt.Errorf("report-updated payload missing report id"))
	}
	l.dispatcher.HandleStatusChange(ctx, event.Before, event.After)
	return nil
}
