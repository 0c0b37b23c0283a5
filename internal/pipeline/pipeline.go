// Package pipeline implements the bounded-mailbox worker runtime the rest
// of the passes are built on: goroutine workers connected by bounded
// channels, with no cancellation and no task stealing.
package pipeline

import (
	"sync"
	"time"
)

// Timings records per-stage elapsed time; Merge folds one ledger into
// another.
type Timings struct {
	Stages map[string]time.Duration
}

// NewTimings returns an empty Timings ledger.
func NewTimings() Timings {
	return Timings{Stages: make(map[string]time.Duration)}
}

// Add records d against stage name, summing if the stage already exists.
func (t *Timings) Add(stage string, d time.Duration) {
	if t.Stages == nil {
		t.Stages = make(map[string]time.Duration)
	}
	t.Stages[stage] += d
}

// Merge folds o's stage durations into t.
func (t *Timings) Merge(o Timings) {
	for k, v := range o.Stages {
		t.Add(k, v)
	}
}

// Actor is the unit the runtime schedules: Call is invoked once per input
// item in order; Finish is called exactly once after the last Call, and
// its return value is the actor's total contribution.
type Actor[In any, Out any] interface {
	Call(in In)
	Finish() Out
}

// Callback runs one Actor on its own goroutine behind a bounded mailbox.
// Send blocks when the mailbox is full; that blocking IS the pipeline's
// backpressure, there is no separate flow-control mechanism.
type Callback[In any, Out any] struct {
	actor   Actor[In, Out]
	mailbox chan In
	done    chan Out
}

// NewCallback starts actor's worker goroutine with a mailbox of the given
// capacity.
func NewCallback[In any, Out any](actor Actor[In, Out], capacity int) *Callback[In, Out] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Callback[In, Out]{
		actor:   actor,
		mailbox: make(chan In, capacity),
		done:    make(chan Out, 1),
	}
	go c.run()
	return c
}

func (c *Callback[In, Out]) run() {
	for in := range c.mailbox {
		c.actor.Call(in)
	}
	c.done <- c.actor.Finish()
}

// Call sends one item to the actor, blocking if the mailbox is full.
func (c *Callback[In, Out]) Call(in In) {
	c.mailbox <- in
}

// Finish closes the mailbox and blocks for the actor's final result. It is
// the only supported termination; there is no cancellation path.
func (c *Callback[In, Out]) Finish() Out {
	close(c.mailbox)
	return <-c.done
}

// CallbackSync runs n independent clones of an actor factory concurrently,
// round-robin dispatching Call and merging their Finish results with a
// caller-supplied combine function. Used for stateless or per-shard work
// (e.g. one clone per way-bbox bucket range).
type CallbackSync[In any, Out any] struct {
	clones []*Callback[In, Out]
	next   int
	mu     sync.Mutex
	merge  func([]Out) Out
}

// NewCallbackSync spawns n clones from factory(i), each with the given
// per-clone mailbox capacity.
func NewCallbackSync[In any, Out any](n, capacity int, factory func(i int) Actor[In, Out], merge func([]Out) Out) *CallbackSync[In, Out] {
	cs := &CallbackSync[In, Out]{merge: merge}
	for i := 0; i < n; i++ {
		cs.clones = append(cs.clones, NewCallback[In, Out](factory(i), capacity))
	}
	return cs
}

// Call dispatches in to the next clone in round-robin order.
func (cs *CallbackSync[In, Out]) Call(in In) {
	cs.mu.Lock()
	idx := cs.next
	cs.next = (cs.next + 1) % len(cs.clones)
	cs.mu.Unlock()
	cs.clones[idx].Call(in)
}

// CallAt dispatches in to a specific clone, for callers that shard work by
// key (e.g. way-id bucket) rather than round-robin.
func (cs *CallbackSync[In, Out]) CallAt(shard int, in In) {
	cs.clones[shard%len(cs.clones)].Call(in)
}

// Finish drains every clone and merges their results.
func (cs *CallbackSync[In, Out]) Finish() Out {
	outs := make([]Out, len(cs.clones))
	for i, c := range cs.clones {
		outs[i] = c.Finish()
	}
	return cs.merge(outs)
}

// NumClones reports the shard count, for callers that need CallAt's modulus.
func (cs *CallbackSync[In, Out]) NumClones() int {
	return len(cs.clones)
}

// Producer is one upstream source feeding a CallbackMerge.
type Producer[T any] <-chan T

// CallbackMerge fans n producer channels into a single downstream actor,
// delivering items in whatever order they become ready across channels —
// relative order across channels is not deterministic; callers that need
// strict order sort explicitly downstream instead of relying on merge order.
type CallbackMerge[In any, Out any] struct {
	actor     Actor[In, Out]
	producers []Producer[In]
}

// NewCallbackMerge constructs a merge point over producers feeding actor.
func NewCallbackMerge[In any, Out any](actor Actor[In, Out], producers []Producer[In]) *CallbackMerge[In, Out] {
	return &CallbackMerge[In, Out]{actor: actor, producers: producers}
}

// Run fans every producer into the actor, delivering each producer's own
// items in its own order but interleaving across producers as they become
// ready (fan-in, not strict round-robin), and returns Finish's result once
// every producer is exhausted and drained.
func (cm *CallbackMerge[In, Out]) Run() Out {
	merged := make(chan In)
	var wg sync.WaitGroup
	wg.Add(len(cm.producers))
	for _, p := range cm.producers {
		go func(p Producer[In]) {
			defer wg.Done()
			for v := range p {
				merged <- v
			}
		}(p)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for v := range merged {
		cm.actor.Call(v)
	}
	return cm.actor.Finish()
}
