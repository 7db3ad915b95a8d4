package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/sproutmeals/fulfillment/internal/cache"
	"github.com/sproutmeals/fulfillment/internal/config"
	kafkax "github.com/sproutmeals/fulfillment/internal/kafka"
	"github.com/sproutmeals/fulfillment/internal/notify"
	"github.com/sproutmeals/fulfillment/internal/orders"
	"github.com/sproutmeals/fulfillment/internal/payments"
	"github.com/sproutmeals/fulfillment/internal/postgres"
	"github.com/sproutmeals/fulfillment/internal/redisx"
	"github.com/sproutmeals/fulfillment/internal/reservation"
	"github.com/sproutmeals/fulfillment/internal/stock"
	"github.com/sproutmeals/fulfillment/internal/sweeper"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-sweeper"
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", name).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// producers: cancellations and reminders
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderConfirmed, 1024, log)
	pConfirmed.Start(ctx)
	pReminder := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentReminder, 1024, log)
	pReminder.Start(ctx)
	dispatcher := &notify.Dispatcher{
		Confirmed: pConfirmed,
		Cancelled: pCancelled,
		Reminder:  pReminder,
		Service:   name,
		Log:       log,
	}

	stockRepo := &stock.PGRepository{DB: db}
	ledger := &stock.Ledger{Repo: stockRepo, Log: log, LowStockThreshold: cfg.LowStockThreshold}
	resMgr := &reservation.Manager{Ledger: ledger, Store: &reservation.PGStore{DB: db}, Log: log}
	orderRepo := &orders.PGRepository{DB: db}
	machine := &orders.Machine{Store: orderRepo, Reservations: resMgr, Notifier: dispatcher, Log: log}

	sw := &sweeper.Sweeper{
		Orders:         orderRepo,
		Reservations:   resMgr,
		Notifier:       dispatcher,
		Locker:         &redisx.Lock{R: rdb},
		Log:            log,
		Interval:       cfg.SweepInterval,
		ReminderWindow: cfg.ReminderWindow,
		Workers:        cfg.SweepWorkers,
		Reminders:      &cache.Redis{R: rdb},
	}
	go sw.Run(ctx)
	log.Info().Dur("interval", cfg.SweepInterval).Msg("payment timeout sweeper started")

	// payment confirmations drive PENDING -> CONFIRMED
	svc := &payments.Service{Machine: machine, Redis: rdb, ServiceName: name, Log: log}
	group := getenv("PAYMENTS_GROUP", "fulfillment-sweeper")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentConfirmed, cfg.SweepWorkers, log)
	go func() {
		log.Info().Str("group", group).Msg("payments consumer started")
		if err := cons.Start(ctx, svc.HandleConfirmed); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down sweeper...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pCancelled.Close()
	pConfirmed.Close()
	pReminder.Close()
	pCancelled.WaitClosed()
	pConfirmed.WaitClosed()
	pReminder.WaitClosed()
}
