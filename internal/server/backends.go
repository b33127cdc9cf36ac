package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/dispatcher"
	"github.com/JakeFAU/heritage-crawler/internal/extractor"
	collyfetcher "github.com/JakeFAU/heritage-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/heritage-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/heritage-crawler/internal/hash/sha256"
	"github.com/JakeFAU/heritage-crawler/internal/headless/detector"
	"github.com/JakeFAU/heritage-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/heritage-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/heritage-crawler/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/heritage-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/heritage-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/heritage-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/heritage-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/heritage-crawler/internal/queue/redis"
	gcsstorage "github.com/JakeFAU/heritage-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/heritage-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/heritage-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/heritage-crawler/internal/storage/postgres"
	"github.com/JakeFAU/heritage-crawler/internal/upsert"
	"github.com/JakeFAU/heritage-crawler/internal/worker"
)

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.Backend != "postgres" {
		a.logger.Warn("using in-memory task and record stores; state is lost on restart")
		a.tasks = memoryStorage.NewTaskStore()
		a.records = memoryStorage.NewRecordStore()
		return nil
	}
	if a.cfg.DB.MigrateOnStart {
		version, err := pgstore.Migrate(a.cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.logger.Info("database migrated", zap.Uint("version", version))
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	tasks, err := pgstore.NewTaskStore(pool)
	if err != nil {
		return fmt.Errorf("task store init failed: %w", err)
	}
	records, err := pgstore.NewRecordStore(pool)
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	a.tasks = tasks
	a.records = records
	a.readiness["db"] = tasks
	a.logger.Info("postgres stores initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupQueue() error {
	switch a.cfg.Queue.Backend {
	case "redis":
		q := queueRedis.New(queueRedis.Config{
			Addr:       a.cfg.Queue.RedisAddr,
			Password:   a.cfg.Queue.RedisPassword,
			DB:         a.cfg.Queue.RedisDB,
			StartKey:   a.cfg.Queue.StartKey,
			RequestKey: a.cfg.Queue.RequestKey,
			PopTimeout: a.cfg.Queue.PopTimeout,
		})
		a.queue = q
		a.readiness["queue"] = q
		a.onClose("redis", func(context.Context) error { return q.Close() })
		a.logger.Info("using redis queue",
			zap.String("addr", a.cfg.Queue.RedisAddr),
			zap.String("start_key", a.cfg.Queue.StartKey),
		)
	case "memory", "":
		q := queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
		a.queue = q
		a.readiness["queue"] = q
		a.onClose("queue", func(context.Context) error {
			q.Close()
			return nil
		})
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Crawler.QueueDepth))
	default:
		return fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
	return nil
}

// setupStorage returns nil when archiving is disabled.
func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return blobs.Close() })
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
}

// setupPublisher returns nil when notifications are disabled.
func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Notify.Backend {
	case "pubsub":
		pub, err := gcppublisher.Dial(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return pub.Close() })
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.Topic),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: a.cfg.Notify.Brokers})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose("kafka", func(context.Context) error { return pub.Close() })
		a.logger.Info("kafka publisher initialized",
			zap.Strings("brokers", a.cfg.Notify.Brokers),
			zap.String("topic", a.cfg.Notify.Topic),
		)
		return pub, nil
	case "memory":
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("record change notifications disabled")
		return nil, nil
	}
}

func (a *App) setupProgress() {
	sinkList := []progress.Sink{}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		a.logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}

	cfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(cfg, sinkList...)
	a.onClose("progress hub", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Duration("max_batch_wait", cfg.MaxBatchWait),
	)
}

func (a *App) setupWorkers(blobs crawler.BlobStore, publisher crawler.Publisher, clock crawler.Clock) ([]dispatcher.Runner, error) {
	limiter := ratelimit.New(ratelimit.FromDelay(a.cfg.Crawler.Delay))
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Crawler.UserAgent,
		RespectRobots:  a.cfg.Crawler.RespectRobots,
		Timeout:        a.cfg.FetchTimeout(),
		AllowedDomains: a.cfg.Crawler.AllowedDomains,
		Logger:         a.logger.Named("fetcher"),
	}, limiter)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Duration("delay", a.cfg.Crawler.Delay),
		zap.Bool("respect_robots", a.cfg.Crawler.RespectRobots),
	)

	var fetcher crawler.Fetcher = plain
	if a.cfg.Headless.Enabled {
		renderCfg := headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			Logger:            a.logger.Named("renderer"),
		}
		if len(a.cfg.Headless.RequiredSelectors) > 0 {
			renderCfg.WaitSelector = a.cfg.Headless.RequiredSelectors[0]
		}
		headless, err := headlessfetcher.NewRenderer(renderCfg)
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			a.onClose("headless", func(context.Context) error {
				headless.Close()
				return nil
			})
			detect := detector.NewHeuristic(a.cfg.Headless.PromotionThreshold, a.cfg.Headless.RequiredSelectors...)
			fetcher = headlessfetcher.NewPromoter(plain, headless, detect, a.logger.Named("promoter"))
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}

	heritage := extractor.NewHeritage(fetcher, extractor.WithLogger(a.logger.Named("extractor")))

	deps := worker.Deps{
		Queue:     a.queue,
		Tasks:     a.tasks,
		Records:   a.records,
		Catalog:   heritage,
		Extractor: heritage,
		BlobStore: blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
		Policy:    upsert.New(a.cfg.StaleAfter()),
		Events:    a.hub,
	}
	workerCfg := worker.Config{
		ContentType: a.cfg.Storage.ContentType,
		BlobPrefix:  a.cfg.Storage.Prefix,
	}
	if publisher != nil {
		workerCfg.Topic = a.cfg.Notify.Topic
	}
	a.logger.Info("worker config",
		zap.String("content_type", workerCfg.ContentType),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("stale_after", a.cfg.StaleAfter()),
	)

	if a.cfg.Crawler.Concurrency <= 0 {
		return nil, fmt.Errorf("crawler.concurrency must be > 0")
	}
	workers := make([]dispatcher.Runner, 0, a.cfg.Crawler.Concurrency)
	for i := range a.cfg.Crawler.Concurrency {
		workers = append(workers, worker.New(deps, workerCfg, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	return workers, nil
}
