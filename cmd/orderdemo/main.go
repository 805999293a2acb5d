// Command orderdemo wires the order domain through the full pipeline. It
// places orders, pays every third one, shows that paying an order twice is
// rejected, and prints the first page of orders as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/config"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/eventbus/redisstream"
	"github.com/terraskye/pipeline/fixtures"
	"github.com/terraskye/pipeline/logging"
	"github.com/terraskye/pipeline/paging"
	"github.com/terraskye/pipeline/store"
	"github.com/terraskye/pipeline/store/memory"
	"github.com/terraskye/pipeline/store/sqlite"
	"github.com/terraskye/pipeline/uow"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout))
}

// runMain returns the process exit code so deferred cleanup runs before exit.
func runMain(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("orderdemo", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	orders := fs.Int("orders", 25, "number of orders to place")
	pageSize := fs.Int("page-size", 10, "orders per page")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	log := logrus.NewEntry(cfg.Logger())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, stdout, *orders, *pageSize); err != nil {
		log.WithError(err).Error("orderdemo failed")
		return 1
	}
	return 0
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Store.DSN)
	default:
		return memory.New(), nil
	}
}

func busOptions(cfg config.Config) []eventbus.Option {
	opts := []eventbus.Option{eventbus.WithLogger(slog.Default())}
	if n := cfg.Events.RetryAttempts; n > 0 {
		interval := cfg.Events.RetryInterval
		opts = append(opts, eventbus.WithRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), n)
		}))
	}
	return opts
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry, stdout io.Writer, n, pageSize int) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := uow.ParsePolicy(cfg.Transaction.Nested)
	if err != nil {
		return err
	}

	m, err := fixtures.NewModule(st,
		fixtures.WithLogger(log),
		fixtures.WithBusOptions(busOptions(cfg)...),
		fixtures.WithCoordinatorOptions(uow.WithPolicy(policy)),
	)
	if err != nil {
		return err
	}

	if err := m.Bus.SubscribeAll("audit", logging.SubscriberLogging(slog.Default(), "audit",
		func(context.Context, eventbus.Envelope) error { return nil })); err != nil {
		return err
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		opts := []redisstream.Option{redisstream.WithMaxLen(cfg.Redis.MaxLen)}
		if cfg.Redis.RateLimit > 0 {
			opts = append(opts, redisstream.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Redis.RateLimit), 1)))
		}
		if err := redisstream.NewForwarder(rdb, cfg.Redis.Stream, opts...).Register(m.Bus); err != nil {
			return err
		}
	}

	d := m.Dispatcher
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("order-%03d", i)
		cmd := fixtures.NewPlaceOrder().WithID(id).WithCustomer([]string{"alice", "bob"}[i%2]).WithAmount(int64(i) * 250).Build()
		if _, err := pipeline.Send[pipeline.Empty](ctx, d, cmd); err != nil {
			return err
		}
		if i%3 == 0 {
			if _, err := pipeline.Send[pipeline.Empty](ctx, d, fixtures.PayOrder{OrderID: id}); err != nil {
				return err
			}
		}
	}

	// Rejected on purpose: an order cannot be paid twice.
	if n >= 3 {
		_, err = pipeline.Send[pipeline.Empty](ctx, d, fixtures.PayOrder{OrderID: "order-003"})
		var violation *pipeline.DomainRuleViolationError
		if !errors.As(err, &violation) {
			return fmt.Errorf("expected a domain rule violation, got %v", err)
		}
		log.WithError(err).Info("double payment rejected")
	}

	page, err := pipeline.Send[paging.Page[fixtures.Order]](ctx, d, fixtures.ListOrders{Page: 1, PageSize: pageSize})
	if err != nil {
		return err
	}
	base, _ := url.Parse("/orders")
	page = page.WithLinks(base)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(page)
}
