// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package observer

import (
	"context"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/pipeline/bus"
)

// TopicLifecycle carries every Event published by Bus.
const TopicLifecycle = "session.lifecycle"

const publishTimeout = 200 * time.Millisecond

// Bus publishes events on TopicLifecycle. A slow subscriber costs at most
// publishTimeout per event; the event is then dropped.
type Bus struct {
	B bus.Bus
}

func (b Bus) Created(ctx context.Context, ev Event)     { b.publish(ctx, ev) }
func (b Bus) Expired(ctx context.Context, ev Event)     { b.publish(ctx, ev) }
func (b Bus) Exited(ctx context.Context, ev Event)      { b.publish(ctx, ev) }
func (b Bus) SpawnFailed(ctx context.Context, ev Event) { b.publish(ctx, ev) }

func (b Bus) publish(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.B.Publish(pctx, TopicLifecycle, ev); err != nil {
		log.FromContext(ctx).Debug().Err(err).Str(log.FieldEvent, string(ev.Kind)).Msg("lifecycle event dropped")
	}
}
