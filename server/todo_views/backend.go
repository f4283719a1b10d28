package todo_views

import (
	"context"
	"errors"
	"time"

	"unseen/models"
	"unseen/records"
	"unseen/rest"
	"unseen/store"

	channerics "github.com/niceyeti/channerics/channels"
	log "github.com/sirupsen/logrus"
)

// Backend is where todos are fetched from and their mutations persisted to.
type Backend interface {
	models.Fetcher
	// Save replaces the record with the given id.
	Save(ctx context.Context, id string, rec records.Record) error
	// Remove deletes the record with the given id.
	Remove(ctx context.Context, id string) error
}

// StoreBackend keeps todos in a named collection of the local store.
type StoreBackend struct {
	Store      *store.Store
	Collection string
}

func (b *StoreBackend) Fetch(_ context.Context, onSuccess func([]records.Record)) {
	recs, err := b.Store.List(b.Collection)
	if err != nil {
		log.WithError(err).WithField("collection", b.Collection).Error("failed to list records")
		return
	}
	onSuccess(recs)
}

func (b *StoreBackend) Save(_ context.Context, id string, rec records.Record) error {
	seq, err := store.ParseID(id)
	if err != nil {
		return err
	}
	_, err = b.Store.Update(b.Collection, seq, rec)
	return err
}

func (b *StoreBackend) Remove(_ context.Context, id string) error {
	seq, err := store.ParseID(id)
	if err != nil {
		return err
	}
	return b.Store.Delete(b.Collection, seq)
}

// ErrRejected is returned when a remote endpoint did not accept a mutation.
// The rest client has already logged why.
var ErrRejected = errors.New("todo: remote endpoint rejected the request")

// RestBackend keeps todos behind a remote record endpoint.
type RestBackend struct {
	Client *rest.Client
}

func (b *RestBackend) Fetch(ctx context.Context, onSuccess func([]records.Record)) {
	b.Client.Fetch(ctx, onSuccess)
}

func (b *RestBackend) Save(ctx context.Context, id string, rec records.Record) error {
	ok := false
	b.Client.Update(ctx, id, rec, func(records.Record) { ok = true })
	if !ok {
		return ErrRejected
	}
	return nil
}

func (b *RestBackend) Remove(ctx context.Context, id string) error {
	ok := false
	b.Client.Delete(ctx, id, func() { ok = true })
	if !ok {
		return ErrRejected
	}
	return nil
}

// Poll fetches from f every interval, sending each successfully fetched batch,
// until ctx is cancelled.
func Poll(
	ctx context.Context,
	f models.Fetcher,
	interval time.Duration,
) <-chan []records.Record {
	batches := make(chan []records.Record)

	go func() {
		defer close(batches)

		for range channerics.NewTicker(ctx.Done(), interval) {
			var batch []records.Record
			fetched := false
			f.Fetch(ctx, func(recs []records.Record) {
				batch, fetched = recs, true
			})
			if !fetched {
				continue
			}

			select {
			case batches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return batches
}
