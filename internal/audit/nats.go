package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/coldops/coldchain/internal/timer"
)

// JetStreamConfig holds the NATS JetStream audit sink configuration.
type JetStreamConfig struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	MaxAge         time.Duration
	PublishTimeout time.Duration
}

// DefaultJetStreamConfig returns the default audit sink configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:            nats.DefaultURL,
		StreamName:     "COLDCHAIN_AUDIT",
		SubjectPrefix:  "coldchain.audit",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		MaxAge:         7 * 24 * time.Hour,
		PublishTimeout: 5 * time.Second,
	}
}

// JetStreamLog publishes audit events to a JetStream stream.
type JetStreamLog struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	clock  interface{ Now() time.Time }
}

// NewJetStreamLog connects to NATS and ensures the audit stream exists.
func NewJetStreamLog(cfg JetStreamConfig, clock interface{ Now() time.Time }) (*JetStreamLog, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	l := &JetStreamLog{nc: nc, js: js, config: cfg, clock: clock}

	if err := l.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return l, nil
}

func (l *JetStreamLog) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        l.config.StreamName,
		Description: "Timer lifecycle audit trail",
		Subjects:    []string{fmt.Sprintf("%s.>", l.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      l.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := l.js.Stream(ctx, l.config.StreamName); err != nil {
		if _, err = l.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", l.config.StreamName).Msg("created JetStream audit stream")
	}
	return nil
}

// TimerCreated appends a TimerCreated event.
func (l *JetStreamLog) TimerCreated(t timer.Timer) { l.publish(EventTimerCreated, t) }

// TimerCompleted appends a TimerCompleted event.
func (l *JetStreamLog) TimerCompleted(t timer.Timer) { l.publish(EventTimerCompleted, t) }

// TimerDeleted appends a TimerDeleted event.
func (l *JetStreamLog) TimerDeleted(t timer.Timer) { l.publish(EventTimerDeleted, t) }

// publish appends asynchronously; failures are logged, never propagated.
func (l *JetStreamLog) publish(eventType string, t timer.Timer) {
	event := newEvent(eventType, t, l.clock.Now())
	data, err := event.marshal()
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal audit event")
		return
	}
	subject := fmt.Sprintf("%s.%s", l.config.SubjectPrefix, eventType)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.config.PublishTimeout)
		defer cancel()

		if _, err := l.js.Publish(ctx, subject, data); err != nil {
			log.Error().
				Err(err).
				Str("subject", subject).
				Str("timer_id", event.TimerID).
				Msg("failed to publish audit event")
		}
	}()
}

// Close drains the NATS connection.
func (l *JetStreamLog) Close() {
	if l.nc != nil {
		l.nc.Close()
	}
}
