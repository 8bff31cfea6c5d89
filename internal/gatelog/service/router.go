package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
	"github.com/BrandonDHaskell/gatelog/internal/serial"
)

const (
	dateLayout = "02.01.2006"
	timeLayout = "15:04:05"
)

// ErrUnexpectedFault wraps every error that ends Run other than shutdown.
var ErrUnexpectedFault = errors.New("unexpected fault")

// LineSource is the transport as seen by the router. *serial.Port
// implements it.
type LineSource interface {
	// ReadLine returns the next line, serial.ErrNoData when nothing arrived
	// within the transport's timeout, or serial.ErrDecode /
	// serial.ErrLineTooLong for a line that had to be discarded.
	ReadLine() (string, error)
}

// Dependencies wires a Router.
type Dependencies struct {
	Logger *log.Logger
	Store  store.LogStore

	// Mirror, if set, receives a copy of every appended record. Mirror
	// failures are logged and never stop the loop.
	Mirror store.LogStore

	// Now defaults to time.Now. Records use its local wall-clock time.
	Now func() time.Time
}

// Stats counts what the router has seen since it was created.
type Stats struct {
	Logged    uint64
	Alarms    uint64
	Ignored   uint64
	Malformed uint64
	Dropped   uint64 // undecodable or oversized lines
}

// Router classifies controller lines and dispatches them: LOG events to
// the store, ALARM events to the console, everything else nowhere.
type Router struct {
	logger *log.Logger
	store  store.LogStore
	mirror store.LogStore
	now    func() time.Time

	logged    atomic.Uint64
	alarms    atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

func NewRouter(d Dependencies) *Router {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		logger: d.Logger,
		store:  d.Store,
		mirror: d.Mirror,
		now:    now,
	}
}

// Run polls src until ctx is cancelled or a fault occurs. Cancellation
// returns nil. Any read error other than the per-line conditions, any store
// failure and any panic while handling a line end the loop with an error
// wrapping ErrUnexpectedFault. The caller owns src and must close it.
func (r *Router) Run(ctx context.Context, src LineSource) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.step(ctx, src); err != nil {
			return err
		}
	}
}

func (r *Router) step(ctx context.Context, src LineSource) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrUnexpectedFault, p)
		}
	}()

	line, err := src.ReadLine()
	switch {
	case errors.Is(err, serial.ErrNoData):
		return nil
	case errors.Is(err, serial.ErrDecode), errors.Is(err, serial.ErrLineTooLong):
		r.dropped.Add(1)
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrUnexpectedFault, err)
	}

	if err := r.Dispatch(ctx, line); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedFault, err)
	}
	return nil
}

// Dispatch handles one raw line.
func (r *Router) Dispatch(ctx context.Context, line string) error {
	ev := ParseLine(line)

	switch ev.Kind {
	case types.KindLog:
		return r.recordAccess(ctx, ev)
	case types.KindAlarm:
		r.alarms.Add(1)
		r.logger.Printf("!!! SECURITY ALERT !!! -> %s", ev.Raw)
	default:
		// Short LOG lines are dropped silently; only the counter records them.
		if ev.Malformed {
			r.malformed.Add(1)
		} else {
			r.ignored.Add(1)
		}
	}
	return nil
}

func (r *Router) recordAccess(ctx context.Context, ev types.Event) error {
	at := r.now()
	rec := types.LogRecord{
		Date:     at.Format(dateLayout),
		Time:     at.Format(timeLayout),
		User:     ev.User,
		CardID:   ev.CardID,
		LoggedAt: at,
	}

	if err := r.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append access record: %w", err)
	}
	r.logged.Add(1)
	r.logger.Printf("[LOGGED] %s %s -> %s", rec.Date, rec.Time, rec.User)

	r.mirrorRecord(ctx, rec)
	return nil
}

// mirrorRecord copies rec to the audit mirror. The CSV row is already
// durable, so a mirror failure is reported and otherwise ignored.
func (r *Router) mirrorRecord(ctx context.Context, rec types.LogRecord) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Append(ctx, rec); err != nil {
		r.logger.Printf("audit mirror error: %v", err)
	}
}

func (r *Router) Stats() Stats {
	return Stats{
		Logged:    r.logged.Load(),
		Alarms:    r.alarms.Load(),
		Ignored:   r.ignored.Load(),
		Malformed: r.malformed.Load(),
		Dropped:   r.dropped.Load(),
	}
}
