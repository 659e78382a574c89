// Package bootstrap constructs the long-lived services shared by the API
// server and the standalone worker, and tears them down in reverse order.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/deadletter"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// Services is everything a process needs to accept or process webhooks.
type Services struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Repos      *repository.Repositories
	Queue      *jobqueue.Queue
	Reconciler *reconcile.Service
	Processor  *webhook.Processor
	Intake     *webhook.Intake

	stream  *notify.StreamPublisher
	workers *jobqueue.Manager
}

// New connects the database and Redis and wires the pipeline.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	if cfg.Razorpay.WebhookSecret == "" {
		log.Warn("[Bootstrap] RAZORPAY_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	db, err := database.Open(cfg.DB, cfg.IsDev())
	if err != nil {
		return nil, err
	}
	s := &Services{
		Config: cfg,
		DB:     db,
		Redis:  cache.NewClient(cfg.Cache),
		Repos:  repository.NewRepositories(db),
	}

	s.Queue = jobqueue.NewQueue(s.Redis, jobqueue.OptionsFromConfig(cfg.Queue))
	if cfg.DeadLetter.Enabled() {
		if err := s.installDeadLetter(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	notifier, err := s.newNotifier()
	if err != nil {
		s.Close()
		return nil, err
	}

	publisher := realtime.NewRedisPublisher(s.Redis, realtime.DefaultChannel)
	s.Reconciler = reconcile.NewService(s.Repos, publisher, notifier)
	s.Processor = webhook.NewProcessor(cfg.Razorpay.WebhookSecret, s.Reconciler, s.Repos.PaymentLog)
	s.Processor.SetProgressReporter(s.Queue)
	s.Intake = webhook.NewIntake(cfg.Razorpay.WebhookSecret, webhook.NewGate(s.Repos.Payment, s.Repos.Purchase, s.Repos.Transaction), s.Queue)
	return s, nil
}

func (s *Services) installDeadLetter(ctx context.Context) error {
	cfg := s.Config.DeadLetter
	client, err := deadletter.NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	archive := deadletter.NewArchive(client, cfg.Bucket, cfg.Prefix)
	if err := archive.EnsureBucket(ctx, cfg.Region, s.Config.AppEnv != "prod"); err != nil {
		return fmt.Errorf("dead-letter archive: %w", err)
	}
	s.Queue.SetDeadLetterSink(archive)
	log.Infof("[Bootstrap] Dead-letter archive enabled: s3://%s/%s", cfg.Bucket, cfg.Prefix)
	return nil
}

// newNotifier returns nil when neither mail nor Kafka is configured.
func (s *Services) newNotifier() (reconcile.PurchaseNotifier, error) {
	var sender mail.Sender
	if s.Config.Mail.Enabled() {
		sender = mail.NewSMTPMailer(s.Config.Mail)
	}

	var publisher notify.PurchasePublisher
	if s.Config.Kafka.Enabled() {
		producer, err := notify.NewKafkaProducer(s.Config.Kafka)
		if err != nil {
			return nil, err
		}
		s.stream = notify.NewStreamPublisher(producer, s.Config.Kafka.Topic)
		publisher = s.stream
	}

	if sender == nil && publisher == nil {
		return nil, nil
	}
	return notify.NewNotifier(sender, publisher), nil
}

// StartWorkers runs the queue workers and housekeeping in this process.
func (s *Services) StartWorkers() {
	if s.workers == nil {
		s.workers = jobqueue.NewManager(s.Queue, s.Processor)
	}
	s.workers.Start()
}

// Close drains the workers first so in-flight jobs finish, then releases
// the clients.
func (s *Services) Close() {
	if s.workers != nil {
		s.workers.Stop()
	}
	if s.stream != nil {
		s.stream.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warnf("[Bootstrap] Redis close error: %v", err)
		}
	}
	if s.DB != nil {
		database.Close(s.DB)
	}
}
