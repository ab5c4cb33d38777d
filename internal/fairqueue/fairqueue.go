// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fairqueue provides a weighted round-robin multiplexer over
// per-source request queues. Several core components use it to keep one
// request stream from starving the others.
package fairqueue

import (
	"golang.org/x/time/rate"

	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/utils/linked"
)

// Origin identifies a sub-queue: a source tag plus an optional channel.
type Origin[S comparable] struct {
	Source  S
	Channel transport.Channel
}

// Item is a dequeued request with its origin.
type Item[S comparable, R any] struct {
	Request R
	Origin  Origin[S]
}

type subqueue[R any] struct {
	requests []R
	priority int
	maxSize  int
	limiter  *rate.Limiter
	// consumed counts items taken at the current round-robin stop.
	consumed int
}

// Queue multiplexes per-origin sub-queues with weighted round-robin
// selection: each stop of the cursor consumes up to the origin's priority
// before moving on.
type Queue[S comparable, R any] struct {
	queues *linked.Hashmap[Origin[S], *subqueue[R]]
	// cursor holds the origins in round-robin order; index points at the
	// sub-queue currently being drained.
	cursor []Origin[S]
	index  int

	// MaxSizeQuery returns the capacity of a new sub-queue.
	MaxSizeQuery func(Origin[S]) int
	// PriorityQuery returns the round-robin weight of a new sub-queue.
	PriorityQuery func(Origin[S]) int
	// RateQuery returns the admission rate of a new sub-queue; a zero rate
	// means unlimited.
	RateQuery func(Origin[S]) (rate.Limit, int)
}

// New returns an empty queue with unlimited defaults.
func New[S comparable, R any]() *Queue[S, R] {
	return &Queue[S, R]{
		queues:        linked.NewHashmap[Origin[S], *subqueue[R]](),
		MaxSizeQuery:  func(Origin[S]) int { return 1024 },
		PriorityQuery: func(Origin[S]) int { return 1 },
		RateQuery:     func(Origin[S]) (rate.Limit, int) { return 0, 0 },
	}
}

// Push enqueues a request for the origin. It reports false if the
// sub-queue is full or the origin's rate is exceeded.
func (q *Queue[S, R]) Push(request R, source S, channel transport.Channel) bool {
	origin := Origin[S]{Source: source, Channel: channel}
	sub, ok := q.queues.Get(origin)
	if !ok {
		limit, burst := q.RateQuery(origin)
		var limiter *rate.Limiter
		if limit > 0 {
			limiter = rate.NewLimiter(limit, burst)
		}
		sub = &subqueue[R]{
			priority: q.PriorityQuery(origin),
			maxSize:  q.MaxSizeQuery(origin),
			limiter:  limiter,
		}
		q.queues.Put(origin, sub)
		q.cursor = append(q.cursor, origin)
	}
	if len(sub.requests) >= sub.maxSize {
		return false
	}
	if sub.limiter != nil && !sub.limiter.Allow() {
		return false
	}
	sub.requests = append(sub.requests, request)
	return true
}

// Next dequeues the next request in weighted round-robin order.
func (q *Queue[S, R]) Next() (Item[S, R], bool) {
	if q.Empty() {
		return Item[S, R]{}, false
	}
	for range 2*len(q.cursor) + 1 {
		origin := q.cursor[q.index]
		sub, ok := q.queues.Get(origin)
		if !ok {
			q.step()
			continue
		}
		if len(sub.requests) == 0 || sub.consumed >= sub.priority {
			sub.consumed = 0
			q.step()
			continue
		}
		request := sub.requests[0]
		sub.requests = sub.requests[1:]
		sub.consumed++
		return Item[S, R]{Request: request, Origin: origin}, true
	}
	return Item[S, R]{}, false
}

func (q *Queue[S, R]) step() {
	if len(q.cursor) == 0 {
		q.index = 0
		return
	}
	q.index = (q.index + 1) % len(q.cursor)
}

// NextBatch dequeues up to max requests.
func (q *Queue[S, R]) NextBatch(max int) []Item[S, R] {
	var out []Item[S, R]
	for len(out) < max {
		item, ok := q.Next()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// Size returns the length of one origin's sub-queue.
func (q *Queue[S, R]) Size(source S, channel transport.Channel) int {
	if sub, ok := q.queues.Get(Origin[S]{Source: source, Channel: channel}); ok {
		return len(sub.requests)
	}
	return 0
}

// TotalSize returns the number of queued requests across all origins.
func (q *Queue[S, R]) TotalSize() int {
	total := 0
	q.queues.ForEach(func(_ Origin[S], sub *subqueue[R]) bool {
		total += len(sub.requests)
		return true
	})
	return total
}

// Empty reports whether no requests are queued.
func (q *Queue[S, R]) Empty() bool {
	return q.TotalSize() == 0
}

// QueuesSize returns the number of sub-queues.
func (q *Queue[S, R]) QueuesSize() int {
	return q.queues.Len()
}

// Cleanup drops sub-queues whose channel is no longer alive. Call
// periodically.
func (q *Queue[S, R]) Cleanup() {
	var dead []Origin[S]
	q.queues.ForEach(func(origin Origin[S], _ *subqueue[R]) bool {
		if origin.Channel != nil && !origin.Channel.Alive() {
			dead = append(dead, origin)
		}
		return true
	})
	for _, origin := range dead {
		q.remove(origin)
	}
}

// Clear drops every sub-queue.
func (q *Queue[S, R]) Clear() {
	q.queues = linked.NewHashmap[Origin[S], *subqueue[R]]()
	q.cursor = nil
	q.index = 0
}

func (q *Queue[S, R]) remove(origin Origin[S]) {
	q.queues.Delete(origin)
	for i, o := range q.cursor {
		if o == origin {
			q.cursor = append(q.cursor[:i], q.cursor[i+1:]...)
			if q.index > i {
				q.index--
			}
			break
		}
	}
	if len(q.cursor) == 0 {
		q.index = 0
	} else {
		q.index %= len(q.cursor)
	}
}
