package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dotproj/api/internal/cache"
	"dotproj/api/internal/config"
	"dotproj/api/internal/jobs"
	"dotproj/api/internal/search"
	"dotproj/api/internal/store"
	"dotproj/api/internal/summary"
)

// runtime holds the connections shared by every command.
type runtime struct {
	cfg   config.Config
	log   *logrus.Entry
	db    *sql.DB
	store *store.PostgresStore
	redis *redis.Client
}

func loadConfig(envFiles []string) (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logrus.NewEntry(cfg.Logger())
	if cfg.InsecureJWTSecret() {
		log.WithField("env", cfg.GoAppEnvironment).Warn("AUTH_JWT_SECRET is unset or the development default; anyone can mint tokens")
	}
	return cfg, log, nil
}

// open connects to Postgres and, when withRedis is set, Redis.
func open(ctx context.Context, envFiles []string, withRedis bool) (*runtime, error) {
	cfg, log, err := loadConfig(envFiles)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, db: db, store: store.NewPostgresStore(db)}

	if withRedis {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rt.redis = redis.NewClient(opts)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.db.Close()
}

func (rt *runtime) queue() *jobs.Queue {
	return jobs.NewQueue(rt.redis, jobs.QueueOptions{DoneTTL: rt.cfg.Worker.DoneTTL})
}

func (rt *runtime) timestamps() *cache.RedisStore {
	return cache.NewRedisStore(rt.redis, cache.StoreOptions{TTL: rt.cfg.Cache.TTL, Channel: rt.cfg.Cache.Channel})
}

func (rt *runtime) invalidator() *cache.Invalidator {
	return cache.NewInvalidator(cache.MustResolver(cache.DefaultTemplates), rt.timestamps())
}

func (rt *runtime) summarizer(queue *jobs.Queue) *summary.Summarizer {
	return summary.New(rt.store, queue, rt.invalidator(), summary.Options{
		URL:     rt.cfg.Summary.URL,
		Timeout: rt.cfg.Summary.Timeout,
		Delay:   rt.cfg.Summary.Delay,
		Logger:  rt.log,
	})
}

// searchService returns the task search service. Without MEILI_URL it only
// uses Postgres full-text search.
func (rt *runtime) searchService() (*search.Service, func()) {
	var meili *search.Meili
	closer := func() {}
	if rt.cfg.Search.MeiliURL != "" {
		meili = search.NewMeili(rt.cfg.Search.MeiliURL, rt.cfg.Search.MeiliMasterKey, rt.log)
		closer = meili.Close
	}
	return search.NewService(meili, search.NewPgFTS(rt.store), rt.store, rt.log.WithField("component", "search")), closer
}
