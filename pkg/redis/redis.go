package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Connect(config Config, log *zap.SugaredLogger) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", config.Host, config.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     100,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	stats, err := GetStats(ctx, client)
	if err != nil {
		log.Warnw("failed to get redis info", "error", err)
	}
	log.Infow("redis connected", "addr", addr, "version", stats["redis_version"])

	return client, nil
}

var targetMetrics = map[string]bool{
	"redis_version":              true,
	"connected_clients":          true,
	"used_memory_human":          true,
	"used_memory_peak_human":     true,
	"total_connections_received": true,
	"total_commands_processed":   true,
	"keyspace_hits":              true,
	"keyspace_misses":            true,
	"uptime_in_seconds":          true,
}

// GetStats returns the subset of INFO fields the health endpoint exposes,
// plus a derived keyspace_hit_rate.
func GetStats(ctx context.Context, client *redis.Client) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	info, err := client.Info(ctx).Result()
	if err != nil {
		return nil, err
	}
	return parseInfo(info), nil
}

func parseInfo(info string) map[string]string {
	stats := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if found && targetMetrics[key] {
			stats[key] = value
		}
	}

	hits, misses := ParseFloat(stats["keyspace_hits"]), ParseFloat(stats["keyspace_misses"])
	if hits+misses > 0 {
		stats["keyspace_hit_rate"] = strconv.FormatFloat(hits/(hits+misses), 'f', 3, 64)
	}
	return stats
}

func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return val
}
