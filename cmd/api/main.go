package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/config"
	"github.com/sproutmeals/fulfillment/internal/httpx"
	kafkax "github.com/sproutmeals/fulfillment/internal/kafka"
	"github.com/sproutmeals/fulfillment/internal/notify"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/postgres"
	"github.com/sproutmeals/fulfillment/internal/redisx"
	"github.com/sproutmeals/fulfillment/internal/reservation"
	"github.com/sproutmeals/fulfillment/internal/stock"
	"github.com/sproutmeals/fulfillment/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// schema first, then the pool
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	redisCache := &cache.Redis{R: rdb}

	// notification producers, one per topic
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmed, 1024, log)
	pConfirmed.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)
	dispatcher := &notify.Dispatcher{
		Confirmed: pConfirmed,
		Cancelled: pCancelled,
		Service:   cfg.ServiceName,
		Log:       log,
	}

	// core wiring
	stockRepo := &stock.PGRepository{DB: db}
	ledger := &stock.Ledger{Repo: stockRepo, Log: log, LowStockThreshold: cfg.LowStockThreshold}
	resMgr := &reservation.Manager{Ledger: ledger, Store: &reservation.PGStore{DB: db}, Log: log}
	orderRepo := &orders.PGRepository{DB: db}
	machine := &orders.Machine{Store: orderRepo, Reservations: resMgr, Notifier: dispatcher, Log: log}
	sw := &sweeper.Sweeper{
		Orders:       orderRepo,
		Reservations: resMgr,
		Notifier:     dispatcher,
		Locker:       &redisx.Lock{R: rdb},
		Log:          log,
		Workers:      cfg.SweepWorkers,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:          orderRepo,
		Reservations:  resMgr,
		StatusCache:   redisCache,
		PaymentWindow: cfg.PaymentWindow,
		Log:           log,
	}
	oh.Register(router)
	ah := &httpx.AdminHandler{
		Ledger:     ledger,
		Sweeper:    sw,
		Machine:    machine,
		StatsCache: redisCache,
		Log:        log,
	}
	ah.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pConfirmed.Close() // close inbox -> flush & close writer
	pCancelled.Close()
	cancel() // stop producer loops
	pConfirmed.WaitClosed()
	pCancelled.WaitClosed()
}
