package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hifumi-dev/hifumi/enforce/actor"
	"github.com/hifumi-dev/hifumi/enforce/cachestore"
	"github.com/hifumi-dev/hifumi/enforce/confirm"
	"github.com/hifumi-dev/hifumi/enforce/escalation"
	"github.com/hifumi-dev/hifumi/enforce/flagstore"
	"github.com/hifumi-dev/hifumi/enforce/gate"
	"github.com/hifumi-dev/hifumi/enforce/moderation"
	"github.com/hifumi-dev/hifumi/enforce/notify"
	"github.com/hifumi-dev/hifumi/enforce/resolver"
	"github.com/hifumi-dev/hifumi/enforce/schedule"
	"github.com/hifumi-dev/hifumi/enforce/setstore"
	"github.com/hifumi-dev/hifumi/enforce/statestore"
	"github.com/hifumi-dev/hifumi/enforce/throttle"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Server struct {
	logger     *slog.Logger
	rdb        *redis.Client
	store      *schedule.GormStore
	scheduler  *schedule.Scheduler
	gate       *gate.Gate
	moderation *moderation.Service
}

// Admin commands exit right away, so anything they apply must live in a store the daemon shares.
var ErrNoSharedState = errors.New("no shared state store configured (set --redis-url)")

type Config struct {
	RedisURL string
	// Refuse to fall back to in-process state stores.
	RequireSharedState bool
	SetsFileJSON       string
	MembersFileJSON    string
	SlackWebhookURL    string
	Schedule           schedule.Config
	ChatPolicy         throttle.Policy
	// Combined requests per second across all actors for the chat capability. Zero means unlimited.
	UpstreamRateLimit float64
	Logger            *slog.Logger
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	if config.RequireSharedState && config.RedisURL == "" {
		return nil, ErrNoSharedState
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		}
		logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
	}

	var members actor.Directory
	if config.MembersFileJSON != "" {
		fd, err := actor.NewFileDirectory(config.MembersFileJSON)
		if err != nil {
			return nil, fmt.Errorf("loading member list: %v", err)
		}
		members = fd
	} else {
		empty := actor.NewMockDirectory()
		members = &empty
		logger.Warn("no member list configured, name queries will not match anyone")
	}

	var cache cachestore.CacheStore
	var flags flagstore.FlagStore
	var buckets statestore.Store[throttle.Bucket]
	var escalations statestore.Store[escalation.State]
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}
		cache = cachestore.NewRedisCacheStore(rdb, 30*time.Minute)
		flags = flagstore.NewRedisFlagStore(rdb)
		// idle buckets refill completely well within a day
		buckets = statestore.NewRedisStore[throttle.Bucket](rdb, "throttle", 24*time.Hour)
		escalations = statestore.NewRedisStore[escalation.State](rdb, "escalation", 0)
	} else {
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Minute)
		flags = flagstore.NewMemFlagStore()
		buckets = statestore.NewMemStore[throttle.Bucket]()
		escalations = statestore.NewMemStore[escalation.State]()
	}

	dir := actor.NewCacheDirectory(members, cache)
	asker := confirm.NewAsker(logger, nil)
	res := resolver.New(&dir, asker, logger)

	thr := throttle.New(buckets, nil, logger)
	if config.ChatPolicy.Capacity > 0 {
		thr.Policies[throttle.CapabilityChat] = config.ChatPolicy
	}
	esc := escalation.New(escalations, nil, logger)
	g := gate.New(sets, thr, esc, nil, logger)
	if config.UpstreamRateLimit > 0 {
		g.SetUpstreamLimit(throttle.CapabilityChat, rate.Limit(config.UpstreamRateLimit), max(1, int(config.UpstreamRateLimit)))
	}

	store, err := schedule.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("migrating action store: %v", err)
	}
	sched := schedule.NewScheduler(store, nil, logger, config.Schedule)
	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if config.SlackWebhookURL != "" {
		notifier = notify.Multi{notifier, notify.NewSlackNotifier(config.SlackWebhookURL)}
	}
	sched.Notifier = notifier

	svc := moderation.NewService(res, sched, &moderation.FlagSuppressor{Flags: flags}, g, nil, logger)

	return &Server{
		logger:     logger,
		rdb:        rdb,
		store:      store,
		scheduler:  sched,
		gate:       g,
		moderation: svc,
	}, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Run recovers overdue reversals, then drives the scheduler until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	rctx, span := tracer.Start(ctx, "recover")
	err := s.scheduler.RecoverAndRun(rctx, s.moderation.Executor())
	span.End()
	if err != nil {
		return err
	}
	s.logger.Info("scheduler running", "armed", len(s.scheduler.Pending()))
	return s.scheduler.Run(ctx)
}

func (s *Server) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
