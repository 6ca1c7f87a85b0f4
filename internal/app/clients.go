package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studyreel/studyreel-backend/internal/platform/envutil"
	"github.com/studyreel/studyreel-backend/internal/platform/kvstore"
	"github.com/studyreel/studyreel-backend/internal/platform/llm"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/queue"
	"github.com/studyreel/studyreel-backend/internal/platform/vectorindex"
	"github.com/studyreel/studyreel-backend/internal/platform/videosvc"
)

type Clients struct {
	Redis       *goredis.Client
	KV          kvstore.Store
	Queue       queue.Queue
	LLM         llm.Client
	VectorIndex vectorindex.Index
	Video       videosvc.Client
}

func (c Clients) Close(log *logger.Logger) {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("Closing redis client failed", "error", err)
		}
	}
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return Clients{}, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return Clients{}, fmt.Errorf("redis ping: %w", err)
	}

	kv, err := kvstore.NewWithClient(log, rdb)
	if err != nil {
		return Clients{}, fmt.Errorf("init kv store: %w", err)
	}
	q, err := queue.New(log, rdb)
	if err != nil {
		return Clients{}, fmt.Errorf("init queue: %w", err)
	}

	llmClient, err := llm.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init llm client: %w", err)
	}

	vecCfg, err := vectorindex.ResolveConfigFromEnv()
	if err != nil {
		return Clients{}, fmt.Errorf("vector index config: %w", err)
	}
	idx, err := vectorindex.New(log, vecCfg)
	if err != nil {
		return Clients{}, fmt.Errorf("init vector index: %w", err)
	}

	video, err := videosvc.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init video client: %w", err)
	}

	return Clients{
		Redis:       rdb,
		KV:          kv,
		Queue:       q,
		LLM:         llmClient,
		VectorIndex: idx,
		Video:       video,
	}, nil
}
