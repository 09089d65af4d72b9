package location

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrlogin/internal/platform/metrics"
)

var (
	// ErrDirectoryFetch wraps any failure to read the location directory.
	ErrDirectoryFetch = errors.New("location directory fetch failed")
	// ErrSuperseded is returned to a fetch whose result arrived after a newer
	// fetch for the same slot was issued. Its result must be discarded.
	ErrSuperseded = errors.New("location fetch superseded")
)

// Slot names one logical list the picker keeps, such as the room list. A new
// fetch for a slot supersedes any fetch still in flight for it, whatever its
// parameters.
type Slot string

const (
	SlotClinics Slot = "clinics"
	SlotRooms   Slot = "rooms"
	SlotWards   Slot = "wards"
)

type fetchToken struct {
	seq    uint64
	params string
	cancel context.CancelFunc
}

// Accessor fetches location subtrees for one picker. Results follow
// last-writer-wins by issue order: when a fetch for a slot is issued, the
// previous one is cancelled and its result is never returned.
type Accessor struct {
	dir     Directory
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	seq    uint64
	tokens map[Slot]*fetchToken
}

func NewAccessor(dir Directory, logger zerolog.Logger, m *metrics.Metrics) *Accessor {
	return &Accessor{
		dir:     dir,
		logger:  logger,
		metrics: m,
		tokens:  make(map[Slot]*fetchToken),
	}
}

// FetchChildren returns the location with its child summaries. An empty uuid
// short-circuits to an empty location without a request.
func (a *Accessor) FetchChildren(ctx context.Context, slot Slot, uuid string) (*Location, error) {
	var out *Location
	err := a.run(ctx, slot, uuid, uuid == "", func(ctx context.Context) error {
		if uuid == "" {
			out = &Location{}
			return nil
		}
		loc, err := a.dir.Get(ctx, uuid)
		if err != nil {
			return err
		}
		out = loc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSiblings returns the parent of uuid with its children, which are
// uuid's siblings (the rooms next to the current room). An empty uuid, or a
// location without a parent, yields an empty location.
func (a *Accessor) FetchSiblings(ctx context.Context, slot Slot, uuid string) (*Location, error) {
	var out *Location
	err := a.run(ctx, slot, "siblings:"+uuid, uuid == "", func(ctx context.Context) error {
		out = &Location{}
		if uuid == "" {
			return nil
		}
		current, err := a.dir.Get(ctx, uuid)
		if err != nil {
			return err
		}
		parent := current.ParentUUID()
		if parent == "" {
			return nil
		}
		loc, err := a.dir.Get(ctx, parent)
		if err != nil {
			return err
		}
		out = loc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchByTag lists locations carrying tagUUID. When parentUUID is set only
// direct children of that parent are kept.
func (a *Accessor) FetchByTag(ctx context.Context, slot Slot, tagUUID, parentUUID string) ([]Ref, error) {
	var out []Ref
	err := a.run(ctx, slot, "tag:"+tagUUID+":"+parentUUID, tagUUID == "", func(ctx context.Context) error {
		out = []Ref{}
		if tagUUID == "" {
			return nil
		}
		locs, err := a.dir.ListByTag(ctx, tagUUID)
		if err != nil {
			return err
		}
		for _, l := range locs {
			if l == nil || l.UUID == "" || l.Retired {
				continue
			}
			if parentUUID != "" && l.ParentUUID() != parentUUID {
				continue
			}
			out = append(out, l.Ref())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel aborts the in-flight fetch for slot, if any. A result that arrives
// later is discarded.
func (a *Accessor) Cancel(slot Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok, ok := a.tokens[slot]; ok {
		tok.cancel()
		delete(a.tokens, slot)
	}
}

// CancelAll aborts every in-flight fetch.
func (a *Accessor) CancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for slot, tok := range a.tokens {
		tok.cancel()
		delete(a.tokens, slot)
	}
}

// run registers a fetch for slot, superseding the previous one, and reports
// ErrSuperseded if another fetch for slot was issued while this one ran.
func (a *Accessor) run(ctx context.Context, slot Slot, params string, skip bool, fetch func(context.Context) error) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if prev, ok := a.tokens[slot]; ok {
		prev.cancel()
		a.logger.Debug().Str("slot", string(slot)).Str("params", prev.params).Msg("superseding location fetch")
	}
	a.seq++
	mine := &fetchToken{seq: a.seq, params: params, cancel: cancel}
	a.tokens[slot] = mine
	a.mu.Unlock()

	err := fetch(fetchCtx)

	a.mu.Lock()
	current, ok := a.tokens[slot]
	stale := !ok || current.seq != mine.seq
	if !stale {
		delete(a.tokens, slot)
	}
	a.mu.Unlock()

	if stale {
		a.metrics.DirectoryFetch(metrics.ResultSuperseded)
		return ErrSuperseded
	}
	if err != nil {
		a.metrics.DirectoryFetch(metrics.ResultError)
		a.logger.Warn().Err(err).Str("slot", string(slot)).Str("params", params).Msg("location fetch failed")
		return fmt.Errorf("%w: %v", ErrDirectoryFetch, err)
	}
	if skip {
		a.metrics.DirectoryFetch(metrics.ResultSkipped)
	} else {
		a.metrics.DirectoryFetch(metrics.ResultOK)
	}
	return nil
}
