package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maltedev/shop-price-scraper/internal/config"
	"github.com/maltedev/shop-price-scraper/internal/events"
)

type watchOptions struct {
	below int64
	group string
	name  string
}

func runWatch(ctx context.Context, cfg *config.Config, opts watchOptions, out io.Writer) error {
	log := newLogger(cfg)

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("watch needs REDIS_ADDR")
	}

	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	consumer := events.NewConsumer(client, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  opts.group,
		Name:   opts.name,
	}, printEvent(out, opts.below, log), log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printEvent writes one tab separated line per event and warns about prices
// under the threshold.
func printEvent(out io.Writer, below int64, log *slog.Logger) events.Handler {
	return func(ctx context.Context, p *events.PriceResultPayload) error {
		price := "-"
		if p.Price != nil {
			price = p.Price.Display
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", p.Site, p.Status, price, p.Title, p.URL); err != nil {
			return err
		}

		if below > 0 && p.Price != nil && p.Price.Amount < below {
			log.Warn("price below threshold", "url", p.URL, "price", p.Price.Display, "threshold", below)
		}
		return nil
	}
}
