package fanout

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultChannel is the pub/sub channel carrying broadcast envelopes.
const DefaultChannel = "vitrin:broadcast"

// RedisConfig holds connection settings for the Redis/Valkey fanout.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// Redis implements Fanout over Redis/Valkey pub/sub. A single channel
// carries all envelopes; room filtering happens at delivery time in
// each process, which keeps the channel topology flat.
type Redis struct {
	client  valkey.Client
	channel string
}

// NewRedis connects and verifies the server with a PING.
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("fanout: redis addr is required")
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		Dialer:       net.Dialer{Timeout: dialTimeout},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fanout: redis connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("fanout: redis health check: %w", err)
	}

	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Publish(ctx context.Context, data []byte) error {
	cmd := r.client.B().Publish().Channel(r.channel).Message(valkey.BinaryString(data)).Build()
	return r.client.Do(ctx, cmd).Error()
}

func (r *Redis) Subscribe(ctx context.Context, handler Handler) error {
	go func() {
		// Receive blocks on a dedicated connection until ctx is
		// canceled or the client is closed.
		err := r.client.Receive(ctx, r.client.B().Subscribe().Channel(r.channel).Build(),
			func(msg valkey.PubSubMessage) {
				handler([]byte(msg.Message))
			})
		_ = err // canceled ctx or closed client; nothing to recover
	}()
	return nil
}

func (r *Redis) Close() error {
	r.client.Close()
	return nil
}

var _ Fanout = (*Redis)(nil)
