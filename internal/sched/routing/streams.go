package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamGroup is the single consumer group every scheduler instance creates
// on its own inbox stream. There is exactly one real consumer per group (the
// instance itself) — the group exists so XACK/pending-entry tracking and
// XAUTOCLAIM reclaim are available, not for fan-out.
const streamGroup = "stream_group"

// InboxMessage is one delivery read off an instance's inbox stream.
type InboxMessage struct {
	ID     string
	Fields map[string]any
}

// PublishToInbox appends an envelope to targetInstanceID's inbox stream —
// the cross-instance delivery primitive used whenever a job/session event
// must reach whichever instance owns the relevant WebSocket connection.
func (r *Runtime) PublishToInbox(ctx context.Context, targetInstanceID string, fields map[string]any) (string, error) {
	var id string
	err := r.withRetry(ctx, func() error {
		var e error
		id, e = r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.keys.instanceInbox(targetInstanceID),
			Values: fields,
		}).Result()
		return e
	})
	return id, err
}

// EnsureInboxGroup creates the instance's stream and consumer group if
// absent. Idempotent — BUSYGROUP is swallowed.
func (r *Runtime) EnsureInboxGroup(ctx context.Context) error {
	return r.withRetry(ctx, func() error {
		err := r.client.XGroupCreateMkStream(ctx, r.keys.instanceInbox(r.cfg.InstanceID), streamGroup, "0").Err()
		if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	})
}

// ReadInbox blocks up to StreamBlock for up to StreamCount pending messages
// from this instance's own inbox stream, reading as consumer "self" (a
// single logical consumer — there is no multi-consumer fan-out within one
// instance's inbox).
func (r *Runtime) ReadInbox(ctx context.Context) ([]InboxMessage, error) {
	var out []InboxMessage
	err := r.withRetry(ctx, func() error {
		streams, e := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    streamGroup,
			Consumer: "self",
			Streams:  []string{r.keys.instanceInbox(r.cfg.InstanceID), ">"},
			Count:    r.cfg.StreamCount,
			Block:    r.cfg.StreamBlock,
		}).Result()
		if errors.Is(e, redis.Nil) {
			out, e = nil, nil
			return nil
		}
		if e != nil {
			return e
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				out = append(out, InboxMessage{ID: msg.ID, Fields: msg.Values})
			}
		}
		return nil
	})
	return out, err
}

// AckInbox acknowledges and deletes a processed message. Both operations are
// issued (not just XACK) so the stream doesn't grow unbounded with acked
// entries — nothing downstream replays from stream history.
func (r *Runtime) AckInbox(ctx context.Context, msgID string) error {
	return r.withRetry(ctx, func() error {
		pipe := r.client.TxPipeline()
		pipe.XAck(ctx, r.keys.instanceInbox(r.cfg.InstanceID), streamGroup, msgID)
		pipe.XDel(ctx, r.keys.instanceInbox(r.cfg.InstanceID), msgID)
		_, e := pipe.Exec(ctx)
		return e
	})
}

// RunInboxLoop is the instance's single inbox-consumer goroutine: it blocks
// on ReadInbox, hands each message to handle, and ACKs on success. A handler
// error leaves the entry pending for a later XAUTOCLAIM reclaim rather than
// being retried inline, so one poison message can't wedge the loop.
func (r *Runtime) RunInboxLoop(ctx context.Context, handle func(ctx context.Context, msg InboxMessage) error) {
	go func() {
		if err := r.EnsureInboxGroup(ctx); err != nil {
			slog.Error("routing: inbox group setup failed", "err", err)
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := r.ReadInbox(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("routing: inbox read failed", "err", err)
				time.Sleep(time.Second)
				continue
			}
			for _, m := range msgs {
				if err := handle(ctx, m); err != nil {
					slog.Warn("routing: inbox handler failed, leaving pending for reclaim",
						"msg_id", m.ID, "err", err)
					continue
				}
				if err := r.AckInbox(ctx, m.ID); err != nil {
					slog.Warn("routing: inbox ack failed", "msg_id", m.ID, "err", err)
				}
			}
		}
	}()
}

// RunReclaimLoop periodically claims messages idle for longer than
// ReclaimIdle back onto this instance's own consumer and redelivers them to
// handle, so a crash mid-handle doesn't strand entries forever in the PEL —
// there is only one real consumer per inbox, so this is self-healing after a
// restart left entries pending under a now-dead process.
func (r *Runtime) RunReclaimLoop(ctx context.Context, handle func(ctx context.Context, msg InboxMessage) error) {
	go func() {
		t := time.NewTicker(r.cfg.ReclaimIdle)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.reclaimOnce(ctx, handle); err != nil {
					slog.Warn("routing: inbox reclaim failed", "err", err)
				}
			}
		}
	}()
}

func (r *Runtime) reclaimOnce(ctx context.Context, handle func(ctx context.Context, msg InboxMessage) error) error {
	inbox := r.keys.instanceInbox(r.cfg.InstanceID)
	cursor := "0-0"
	for {
		var claimed []redis.XMessage
		var next string
		err := r.withRetry(ctx, func() error {
			var e error
			claimed, next, e = r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   inbox,
				Group:    streamGroup,
				Consumer: "self",
				MinIdle:  r.cfg.ReclaimIdle,
				Start:    cursor,
				Count:    r.cfg.StreamCount,
			}).Result()
			return e
		})
		if err != nil {
			return err
		}
		for _, msg := range claimed {
			m := InboxMessage{ID: msg.ID, Fields: msg.Values}
			if err := handle(ctx, m); err != nil {
				slog.Warn("routing: reclaimed message handler failed", "msg_id", m.ID, "err", err)
				continue
			}
			if err := r.AckInbox(ctx, m.ID); err != nil {
				slog.Warn("routing: reclaimed message ack failed", "msg_id", m.ID, "err", err)
			}
		}
		if next == "0-0" || next == cursor {
			return nil
		}
		cursor = next
	}
}

// ScanAndDeadLetter walks the inbox's pending-entries list and moves any
// entry with delivery count >= DLQMaxDeliveries and idle time >=
// DLQMinIdle into the instance's DLQ stream, then acks/deletes the original.
// Intended to run on a DLQScanInterval ticker.
func (r *Runtime) ScanAndDeadLetter(ctx context.Context) (int, error) {
	inbox := r.keys.instanceInbox(r.cfg.InstanceID)
	dlq := r.keys.instanceDLQ(r.cfg.InstanceID)
	var moved int
	err := r.withRetry(ctx, func() error {
		pending, e := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: inbox,
			Group:  streamGroup,
			Start:  "-",
			End:    "+",
			Count:  r.cfg.DLQScanCount,
		}).Result()
		if e != nil {
			return e
		}
		for _, p := range pending {
			if p.RetryCount < r.cfg.DLQMaxDeliveries || p.Idle < r.cfg.DLQMinIdle {
				continue
			}
			claimed, e := r.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   inbox,
				Group:    streamGroup,
				Consumer: "self",
				MinIdle:  r.cfg.DLQMinIdle,
				Messages: []string{p.ID},
			}).Result()
			if e != nil {
				return e
			}
			for _, msg := range claimed {
				fields := msg.Values
				fields["_original_id"] = msg.ID
				fields["_deliveries"] = p.RetryCount
				if _, e := r.client.XAdd(ctx, &redis.XAddArgs{Stream: dlq, Values: fields}).Result(); e != nil {
					return e
				}
				pipe := r.client.TxPipeline()
				pipe.XAck(ctx, inbox, streamGroup, msg.ID)
				pipe.XDel(ctx, inbox, msg.ID)
				if _, e := pipe.Exec(ctx); e != nil {
					return e
				}
				moved++
			}
		}
		return nil
	})
	return moved, err
}

// RunDLQScanLoop periodically invokes ScanAndDeadLetter until ctx is
// cancelled.
func (r *Runtime) RunDLQScanLoop(ctx context.Context) {
	go func() {
		t := time.NewTicker(r.cfg.DLQScanInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := r.ScanAndDeadLetter(ctx)
				if err != nil {
					slog.Warn("routing: dlq scan failed", "err", err)
					continue
				}
				if n > 0 {
					slog.Warn("routing: moved messages to dlq", "count", n)
				}
			}
		}
	}()
}
