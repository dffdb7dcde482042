package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	platformsync "github.com/Cooperation-org/claim-lexicon/pkg/platform/sync"
)

// ErrDispatcherStopped is returned for events offered after Stop or after a
// fatal handler error.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Handler applies one event.
type Handler interface {
	Handle(ctx context.Context, ev models.Event) error
}

type laneItem struct {
	ev   models.Event
	done func(error)
}

// Dispatcher fans events out to ordered lanes keyed by record slot. Events
// for one slot are always handled in arrival order; unrelated slots proceed
// in parallel. The first handler error halts every lane.
type Dispatcher struct {
	handler Handler
	lanes   []chan laneItem
	logger  *slog.Logger

	mu    sync.RWMutex
	fatal error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherConfig sizes the lanes.
type DispatcherConfig struct {
	Lanes     int
	LaneDepth int
}

// DefaultDispatcherConfig returns the lane sizing used when none is
// configured.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Lanes: 16, LaneDepth: 64}
}

// NewDispatcher creates a dispatcher and starts its lanes.
func NewDispatcher(h Handler, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Lanes <= 0 {
		cfg.Lanes = def.Lanes
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = def.LaneDepth
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler: h,
		lanes:   make([]chan laneItem, cfg.Lanes),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan laneItem, cfg.LaneDepth)
		d.wg.Add(1)
		go d.runLane(d.lanes[i])
	}
	return d
}

// LaneKey identifies the record slot of an event. Events sharing a key are
// applied in order; producers use it as the partition key.
func LaneKey(ev models.Event) string {
	return ev.Owner + "/" + ev.Collection + "/" + ev.RecordKey
}

// Err returns the error that halted the dispatcher, if any.
func (d *Dispatcher) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fatal
}

func (d *Dispatcher) halt(err error) {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
		d.logger.Error("ingestion halted", "error", err)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) runLane(lane chan laneItem) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case item := <-lane:
			if err := d.Err(); err != nil {
				item.done(err)
				continue
			}
			err := d.handler.Handle(d.ctx, item.ev)
			if err != nil {
				d.halt(err)
			}
			item.done(err)
		}
	}
}

// DispatchBatch hands every event to its lane and waits until all of them
// are handled. It returns the first handler error; callers must not advance
// their stream position past a failed batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, events []models.Event) error {
	if err := d.Err(); err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, ev := range events {
		lane := d.lanes[platformsync.ShardIndex(LaneKey(ev), len(d.lanes))]
		wg.Add(1)
		item := laneItem{ev: ev, done: func(err error) {
			record(err)
			wg.Done()
		}}
		select {
		case lane <- item:
		case <-ctx.Done():
			wg.Done()
			record(ctx.Err())
		case <-d.ctx.Done():
			wg.Done()
			record(ErrDispatcherStopped)
		}
		if ctx.Err() != nil || d.ctx.Err() != nil {
			break
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-d.ctx.Done():
		record(ErrDispatcherStopped)
	}

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

// Dispatch handles a single event through its lane.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	return d.DispatchBatch(ctx, []models.Event{ev})
}

// Stop halts the lanes. Events still queued are abandoned; at-least-once
// sources redeliver them.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
