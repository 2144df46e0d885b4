package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cleanpipe/core/internal/logger"
)

const (
	consumerKeyPrefix     = "consumer:"
	consumerSetKey        = "consumers:active"
	heartbeatKeySuffix    = ":heartbeat"
	consumerInfoKeySuffix = ":info"
)

// Info is the liveness record a Heartbeat publishes for one consumer
// process, read by the admin surface. RecoveryManager does not consult it;
// it finds orphaned tasks by their startedAt age alone.
type Info struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
}

// Heartbeat periodically republishes a consumer's liveness key so it
// expires if the owning process dies without deregistering.
type Heartbeat struct {
	client     *redis.Client
	consumerID string
	interval   time.Duration
	timeout    time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	info       *Info
	infoMu     sync.RWMutex
}

// NewHeartbeat creates a Heartbeat for consumerID.
func NewHeartbeat(client *redis.Client, consumerID string, interval, timeout time.Duration) *Heartbeat {
	return &Heartbeat{
		client:     client,
		consumerID: consumerID,
		interval:   interval,
		timeout:    timeout,
		stopCh:     make(chan struct{}),
		info: &Info{
			ID:        consumerID,
			State:     StateStopped.String(),
			StartedAt: time.Now().UTC(),
		},
	}
}

// Start begins sending heartbeats.
func (h *Heartbeat) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.loop(ctx)
	h.register(ctx)
	logger.Info().Str("consumer_id", h.consumerID).Dur("interval", h.interval).Msg("consumer heartbeat started")
}

// Stop halts the heartbeat and deregisters the consumer.
func (h *Heartbeat) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.deregister(ctx)

	logger.Info().Str("consumer_id", h.consumerID).Msg("consumer heartbeat stopped")
}

// UpdateState records the consumer's current State for the admin surface.
func (h *Heartbeat) UpdateState(state State) {
	h.infoMu.Lock()
	h.info.State = state.String()
	h.infoMu.Unlock()
}

// UpdateCurrentTask records the task ID currently being processed, or ""
// when the consumer is idle.
func (h *Heartbeat) UpdateCurrentTask(taskID string) {
	h.infoMu.Lock()
	h.info.CurrentTaskID = taskID
	h.infoMu.Unlock()
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.send(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send(ctx)
		}
	}
}

func (h *Heartbeat) send(ctx context.Context) {
	now := time.Now().UTC()

	if err := h.client.Set(ctx, h.heartbeatKey(), now.Unix(), h.timeout).Err(); err != nil {
		logger.Error().Err(err).Str("consumer_id", h.consumerID).Msg("failed to send heartbeat")
		return
	}

	h.infoMu.Lock()
	h.info.LastHeartbeat = now
	infoData, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	if err := h.client.Set(ctx, h.infoKey(), infoData, h.timeout*2).Err(); err != nil {
		logger.Error().Err(err).Str("consumer_id", h.consumerID).Msg("failed to update consumer info")
	}

	h.client.SAdd(ctx, consumerSetKey, h.consumerID)
}

func (h *Heartbeat) register(ctx context.Context) {
	h.client.SAdd(ctx, consumerSetKey, h.consumerID)

	h.infoMu.Lock()
	h.info.StartedAt = time.Now().UTC()
	infoData, _ := json.Marshal(h.info)
	h.infoMu.Unlock()

	h.client.Set(ctx, h.infoKey(), infoData, h.timeout*2)
}

func (h *Heartbeat) deregister(ctx context.Context) {
	h.client.SRem(ctx, consumerSetKey, h.consumerID)
	h.client.Del(ctx, h.heartbeatKey(), h.infoKey())
}

func (h *Heartbeat) heartbeatKey() string {
	return fmt.Sprintf("%s%s%s", consumerKeyPrefix, h.consumerID, heartbeatKeySuffix)
}

func (h *Heartbeat) infoKey() string {
	return fmt.Sprintf("%s%s%s", consumerKeyPrefix, h.consumerID, consumerInfoKeySuffix)
}

// ActiveConsumers lists the liveness info of every consumer with a
// non-expired info key, for the admin surface.
func ActiveConsumers(ctx context.Context, client *redis.Client) ([]Info, error) {
	ids, err := client.SMembers(ctx, consumerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active consumers: %w", err)
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		key := fmt.Sprintf("%s%s%s", consumerKeyPrefix, id, consumerInfoKeySuffix)
		data, err := client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			client.SRem(ctx, consumerSetKey, id)
			continue
		}
		if err != nil {
			continue
		}

		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// IsConsumerAlive reports whether a consumer's heartbeat key has not expired.
func IsConsumerAlive(ctx context.Context, client *redis.Client, consumerID string) (bool, error) {
	key := fmt.Sprintf("%s%s%s", consumerKeyPrefix, consumerID, heartbeatKeySuffix)
	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check consumer heartbeat: %w", err)
	}
	return exists > 0, nil
}

// IsConsumerPaused reports whether an operator has paused this consumer
// via the admin surface (§4, admin pause/resume).
func IsConsumerPaused(ctx context.Context, client *redis.Client, consumerID string) (bool, error) {
	key := pauseKey(consumerID)
	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check consumer pause status: %w", err)
	}
	return exists > 0, nil
}

// PauseConsumer sets the pause flag the running consumer's main loop polls
// (§4, admin pause/resume). The flag has no expiry: it is cleared only by
// ResumeConsumer, so a paused consumer stays paused across its own restarts.
func PauseConsumer(ctx context.Context, client *redis.Client, consumerID string) error {
	return client.Set(ctx, pauseKey(consumerID), "1", 0).Err()
}

// ResumeConsumer clears the pause flag set by PauseConsumer.
func ResumeConsumer(ctx context.Context, client *redis.Client, consumerID string) error {
	return client.Del(ctx, pauseKey(consumerID)).Err()
}

func pauseKey(consumerID string) string {
	return fmt.Sprintf("%s%s:paused", consumerKeyPrefix, consumerID)
}
