package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/cyberguard/internal/config"
	"github.com/suPer8Hu/cyberguard/internal/report"
	"github.com/suPer8Hu/cyberguard/internal/store/rabbitmq"
)

const (
	maxRetries = 3
	retryDelay = 30 * time.Second
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "report-worker")

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}
	if cfg.SMTPHost == "" || cfg.ReportRecipient == "" {
		log.Error("SMTP_HOST and REPORT_RECIPIENT are required")
		os.Exit(1)
	}

	delivery := report.EmailReporter{
		Mailer: report.NewSMTPMailer(report.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		}),
		Recipient: cfg.ReportRecipient,
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbit dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("rabbit channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Error("queue declare", "err", err)
		os.Exit(1)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error("qos", "err", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Error("consume", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)
	// retries publish on the shared channel
	var pubMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				q, err := report.Decode(d.Body)
				if err != nil {
					wlog.Warn("bad message", "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				err = q.Deliver(sendCtx, delivery)
				cancel()
				if err == nil {
					if err := d.Ack(false); err != nil {
						wlog.Error("ack failed", "user_id", q.UserID(), "err", err)
					}
					wlog.Info("report delivered", "user_id", q.UserID(), "cost", time.Since(start))
					continue
				}

				attempt := rabbitmq.RetryCount(d.Headers) + 1
				if attempt > maxRetries {
					wlog.Error("report dead-lettered", "user_id", q.UserID(), "attempts", attempt-1, "err", err)
					_ = d.Nack(false, false)
					continue
				}
				pubMu.Lock()
				perr := rabbitmq.PublishRetry(ctx, ch, cfg.RabbitQueue, d.Body, attempt, retryDelay)
				pubMu.Unlock()
				if perr != nil {
					wlog.Error("retry publish failed", "user_id", q.UserID(), "err", perr)
					_ = d.Nack(false, false)
					continue
				}
				wlog.Warn("report send failed, retrying", "user_id", q.UserID(), "attempt", attempt, "err", err)
				_ = d.Ack(false)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
