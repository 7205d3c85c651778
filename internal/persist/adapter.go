package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/splitbill/internal/bill"
)

// DefaultKey is the record name used when a single bill is stored.
const DefaultKey = "splitbill-state"

// Adapter saves one bill under one key. Every failure is logged and
// swallowed: the in-memory bill stays authoritative.
type Adapter struct {
	kv  KV
	key string
}

// NewAdapter stores the bill under key in kv.
func NewAdapter(kv KV, key string) *Adapter {
	return &Adapter{kv: kv, key: key}
}

// Key returns the record name.
func (a *Adapter) Key() string {
	return a.key
}

// Save writes the bill.
func (a *Adapter) Save(ctx context.Context, state bill.State) {
	data, err := Encode(state)
	if err != nil {
		slog.Warn("encoding bill snapshot", "key", a.key, "error", err)
		return
	}
	if err := a.kv.Set(ctx, a.key, data); err != nil {
		slog.Warn("saving bill snapshot", "key", a.key, "error", err)
	}
}

// Load reads the bill back. It reports false when nothing usable is stored.
func (a *Adapter) Load(ctx context.Context) (bill.State, bool) {
	state, found, err := a.Fetch(ctx)
	if err != nil {
		slog.Warn("loading bill snapshot", "key", a.key, "error", err)
	}
	return state, found
}

// Fetch reads the bill back. found is false when no record exists. A record
// that cannot be read or decoded is an error.
func (a *Adapter) Fetch(ctx context.Context) (state bill.State, found bool, err error) {
	data, err := a.kv.Get(ctx, a.key)
	if errors.Is(err, ErrNotFound) {
		return bill.State{}, false, nil
	}
	if err != nil {
		return bill.State{}, false, fmt.Errorf("reading %s: %w", a.key, err)
	}
	state, err = Decode(data)
	if err != nil {
		return bill.State{}, false, fmt.Errorf("decoding %s: %w", a.key, err)
	}
	return state, true, nil
}

// Clear removes the stored bill.
func (a *Adapter) Clear(ctx context.Context) {
	if err := a.kv.Remove(ctx, a.key); err != nil {
		slog.Warn("clearing bill snapshot", "key", a.key, "error", err)
	}
}

// Attach keeps the stored record in step with store: every change is saved
// and a reset clears the record.
func (a *Adapter) Attach(ctx context.Context, store *bill.Store) {
	store.OnChange(func(c bill.Change) {
		if c.Kind == bill.ChangeReset {
			a.Clear(ctx)
			return
		}
		a.Save(ctx, c.State)
	})
}
