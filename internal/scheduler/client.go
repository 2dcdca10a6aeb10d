package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"qwork_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// uniqueWindow keeps a periodic sweep from being queued twice while one is
// still waiting.
const uniqueWindow = 10 * time.Minute

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueReminderSweep queues an installment reminder sweep. It reports false
// when an identical sweep is already queued.
func (c *Client) EnqueueReminderSweep(ctx context.Context, window time.Duration) (bool, error) {
	task, err := NewReminderSweepTask(ReminderSweepPayload{Window: window})
	if err != nil {
		return false, err
	}
	return c.enqueueUnique(ctx, task)
}

// EnqueueHousekeeping queues a notification housekeeping run. It reports
// false when an identical run is already queued.
func (c *Client) EnqueueHousekeeping(ctx context.Context, retention time.Duration) (bool, error) {
	task, err := NewHousekeepingTask(HousekeepingPayload{Retention: retention})
	if err != nil {
		return false, err
	}
	return c.enqueueUnique(ctx, task)
}

func (c *Client) enqueueUnique(ctx context.Context, task *asynq.Task) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	_, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.Unique(uniqueWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
