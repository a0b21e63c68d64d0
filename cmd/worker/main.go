package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomchat/internal/config"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/roomchat/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logx.L()
		l.Fatal().Err(err).Msg("load config")
	}
	logx.Init(logx.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "roomchat-worker"})
	logger := logx.L()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal().Err(err).Msg("queue declare")
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// retries are published from several workers over one channel
	var pubMu sync.Mutex

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	// in-flight deliveries finish after a shutdown signal
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wl := logger.With().Int("worker", workerID).Logger()
			for d := range jobs {
				handleDelivery(workCtx, wl, rds, ch, &pubMu, cfg.RabbitQueue, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Error().Msg("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, l zerolog.Logger, rds *redisstore.Store, ch *amqp.Channel, pubMu *sync.Mutex, queue string, d amqp.Delivery) {
	evt, err := rabbitmq.DecodeMessageCreated(d.Body)
	if err != nil {
		l.Error().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	l = l.With().
		Uint64(logx.FieldMessageID, evt.MessageID).
		Uint64(logx.FieldRoomID, evt.RoomID).
		Int("attempt", rabbitmq.Attempt(d)).
		Logger()

	start := time.Now()
	advanced, err := rds.RecordMessage(ctx, evt.RoomID, evt.MessageID, evt.Sender, evt.CreatedAt)
	if err != nil {
		pubMu.Lock()
		rerr := rabbitmq.RetryLater(ctx, ch, queue, d)
		pubMu.Unlock()
		if rerr != nil {
			l.Error().Err(err).AnErr("retry_err", rerr).Msg("record failed, dead-lettering")
			_ = d.Nack(false, false)
			return
		}
		l.Warn().Err(err).Msg("record failed, scheduled retry")
		_ = d.Ack(false)
		return
	}

	if err := d.Ack(false); err != nil {
		l.Error().Err(err).Msg("ack failed")
		return
	}
	if cost := time.Since(start); cost > 500*time.Millisecond || !advanced {
		l.Debug().Dur("cost", cost).Bool("advanced", advanced).Msg("activity recorded")
	}
}
