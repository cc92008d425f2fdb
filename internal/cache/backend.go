package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNoEntry = errors.New("no cached pluglist")

// Entry is the raw pluglist document together with the time it was stored.
type Entry struct {
	Data     []byte
	StoredAt time.Time
}

// Backend stores at most one Entry. Store must replace the previous entry
// atomically, Delete must succeed when nothing is stored. Load and Stat
// return ErrNoEntry when the store is empty; Stat reports the timestamp
// without reading the data.
type Backend interface {
	Name() string
	Load(ctx context.Context) (*Entry, error)
	Stat(ctx context.Context) (time.Time, error)
	Store(ctx context.Context, e *Entry) error
	Delete(ctx context.Context) error
}
