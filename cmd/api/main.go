package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmodule "github.com/warely/warely/modules/billing"
	"github.com/warely/warely/pkg/billing"
	"github.com/warely/warely/pkg/config"
	"github.com/warely/warely/pkg/dailylimit"
	"github.com/warely/warely/pkg/httpserver"
	"github.com/warely/warely/pkg/logger"
	"github.com/warely/warely/pkg/pg"
	"github.com/warely/warely/pkg/plans"
	"github.com/warely/warely/pkg/redis"
)

type appConfig struct {
	Logger  logger.Config
	PG      pg.Config
	Redis   redis.Config
	HTTP    httpserver.Config
	Billing billingConfig
}

type billingConfig struct {
	// PlansPath points at a YAML plan catalog; empty means the built-in one.
	PlansPath         string            `env:"PLANS_PATH"`
	GracePeriod       time.Duration     `env:"BILLING_GRACE_PERIOD" envDefault:"168h"`
	SwapsPerDay       int               `env:"BILLING_SWAPS_PER_DAY" envDefault:"2"`
	SchedulerInterval time.Duration     `env:"BILLING_SCHEDULER_INTERVAL" envDefault:"1m"`
	PaddleEnabled     bool              `env:"PADDLE_ENABLED" envDefault:"false"`
	PaddlePrices      map[string]string `env:"PADDLE_PRICES"` // price id -> "tier/cycle", e.g. "pri_123:pro/monthly"
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.NewFromConfig(cfg.Logger)
	fatal := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		fatal("failed to connect to postgres", err)
	}
	defer db.Close()

	if err := pg.Migrate(ctx, db, cfg.PG, log); err != nil {
		fatal("failed to apply migrations", err)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		fatal("failed to connect to redis", err)
	}
	defer rdb.Close()

	src := plans.NewInMemSource(plans.DefaultCatalog()...)
	if cfg.Billing.PlansPath != "" {
		src = plans.NewYAMLSource(cfg.Billing.PlansPath)
	}
	registry, err := plans.NewRegistry(ctx, src)
	if err != nil {
		fatal("failed to load plan catalog", err)
	}

	swapLimiter, err := dailylimit.New(
		dailylimit.NewRedisStore(rdb, "billing:swaps"),
		cfg.Billing.SwapsPerDay,
	)
	if err != nil {
		fatal("failed to build swap limiter", err)
	}

	opts := []billing.ServiceOption{
		billing.WithSwapLimiter(swapLimiter),
		billing.WithGracePeriod(cfg.Billing.GracePeriod),
		billing.WithLogger(log),
	}
	if cfg.Billing.PaddleEnabled {
		provider, err := newPaddleProvider(cfg.Billing.PaddlePrices)
		if err != nil {
			fatal("failed to configure paddle", err)
		}
		opts = append(opts, billing.WithBillingProvider(provider))
	}

	svc, err := billing.NewService(registry, billing.NewPostgresStore(db), newUsageAggregator(db), opts...)
	if err != nil {
		fatal("failed to build billing service", err)
	}

	scheduler := billing.NewScheduler(svc,
		billing.WithInterval(cfg.Billing.SchedulerInterval),
		billing.WithSchedulerLogger(log),
	)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("transition scheduler exited", "error", err)
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(db),
		redis.Healthcheck(rdb),
	))
	r.Mount("/", billingmodule.Router(svc, log))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	if err := srv.Run(ctx, r); err != nil {
		fatal("http server failed", err)
	}
}

// newPaddleProvider loads the Paddle credentials and translates the
// PADDLE_PRICES map into the provider's price catalog.
func newPaddleProvider(prices map[string]string) (*billing.PaddleProvider, error) {
	var pcfg billing.PaddleConfig
	if err := config.Load(&pcfg); err != nil {
		return nil, err
	}

	catalog := make(map[string]billing.PricePoint, len(prices))
	for priceID, point := range prices {
		tier, cycle, ok := strings.Cut(point, "/")
		if !ok {
			return nil, fmt.Errorf("invalid paddle price mapping %q: want tier/cycle", point)
		}
		pp := billing.PricePoint{Tier: plans.Tier(tier), Cycle: billing.BillingCycle(cycle)}
		if !pp.Cycle.Valid() {
			return nil, fmt.Errorf("invalid billing cycle in paddle price mapping %q", point)
		}
		catalog[priceID] = pp
	}
	return billing.NewPaddleProvider(pcfg, catalog)
}
