package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codesync/internal/models"
)

// Channel is the Redis pub/sub channel shared by all relay instances.
const Channel = "codesync:presence"

// Bridge mirrors presence transitions between relay instances over Redis
// pub/sub. Each instance tags outgoing events with its own id and ignores
// them on the way back in.
type Bridge struct {
	rdb        *redis.Client
	instanceID string
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewBridge(redisAddr string, log *zap.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		rdb:        redis.NewClient(&redis.Options{Addr: redisAddr}),
		instanceID: uuid.New().String(),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID returns this instance's unique id.
func (b *Bridge) InstanceID() string { return b.instanceID }

// PublishPresence pushes a local presence transition to the shared channel.
// Fire-and-forget: publish failures are logged, never propagated.
func (b *Bridge) PublishPresence(event models.PresenceEvent) {
	event.InstanceID = b.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error("failed to marshal presence event", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(b.ctx, Channel, data).Err(); err != nil {
		b.log.Warn("failed to publish presence event", zap.Error(err))
	}
}

// Start subscribes to the shared channel in the background and hands
// foreign-instance events to apply.
func (b *Bridge) Start(apply func(models.PresenceEvent)) {
	go b.subscribe(apply)
}

func (b *Bridge) subscribe(apply func(models.PresenceEvent)) {
	pubsub := b.rdb.Subscribe(b.ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	b.log.Info("subscribed to presence channel", zap.String("instance", b.instanceID))

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn("failed to unmarshal presence event", zap.Error(err))
				continue
			}
			if event.InstanceID == b.instanceID {
				continue
			}
			apply(event)
		}
	}
}

// Close stops the subscriber and releases the Redis client.
func (b *Bridge) Close() {
	b.cancel()
	if err := b.rdb.Close(); err != nil {
		b.log.Debug("failed to close redis client", zap.Error(err))
	}
}
