package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"golden/hour/internal/apperr"
	"golden/hour/internal/domain"
)

// StreamAdder is the part of a redis client used by StreamGateway.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamGateway appends each event to a Redis stream for downstream
// consumers such as hospital admission boards.
type StreamGateway struct {
	rdb    StreamAdder
	stream string
	maxLen int64
}

// NewStreamGateway returns a gateway writing to stream, trimmed to roughly
// maxLen entries when maxLen is positive.
func NewStreamGateway(rdb StreamAdder, stream string, maxLen int64) *StreamGateway {
	return &StreamGateway{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (g *StreamGateway) Name() string { return "stream" }

func (g *StreamGateway) Notify(ctx context.Context, e domain.Emergency, kind Kind, payload map[string]any) error {
	data, err := json.Marshal(NewEnvelope(e, kind, payload))
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: g.stream,
		Values: map[string]any{
			"kind":         string(kind),
			"emergency_id": e.ID,
			"status":       string(e.Status),
			"data":         string(data),
		},
	}
	if g.maxLen > 0 {
		args.MaxLen = g.maxLen
		args.Approx = true
	}
	if err := g.rdb.XAdd(ctx, args).Err(); err != nil {
		return apperr.External("redis stream", err)
	}
	return nil
}
