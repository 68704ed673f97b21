package events

import (
	"context"
	"strings"

	"github.com/smallbiznis/profitledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher connects to the configured broker. A missing or unreachable
// broker degrades to Noop so the ledger keeps serving.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	rawURL := strings.TrimSpace(cfg.Events.AMQPURL)
	if rawURL == "" {
		log.Info("ledger events disabled")
		return Noop{}
	}

	publisher, err := DialAMQP(rawURL, cfg.Events.Exchange, log)
	if err != nil {
		log.Warn("amqp unavailable, ledger events disabled", zap.Error(err))
		return Noop{}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	log.Info("ledger events enabled", zap.String("exchange", cfg.Events.Exchange))
	return publisher
}

// Emit publishes and logs failures; callers never fail on event delivery.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Warn("ledger event publish failed", zap.String("event_type", event.Type), zap.Error(err))
	}
}
