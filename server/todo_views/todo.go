// todo_views are the views of a todo list: one list item per todo, bound to
// a model collection, and a summary of the list's counts. Both follow a
// stream of record batches polled from a Backend.
package todo_views

import (
	"context"
	"time"

	"unseen/models"
	"unseen/records"
	"unseen/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// Element ids of the todo views.
const (
	ListID    = "todos"
	SummaryID = "summary"
)

// NewViews builds the todo list and summary views, fetching the todos from
// backend once and then every refresh interval until ctx is cancelled.
// opts further configure the list's view collection.
func NewViews(
	ctx context.Context,
	backend Backend,
	refresh time.Duration,
	opts ...fastview.CollectionOption,
) ([]fastview.ViewComponent, error) {
	initial := []records.Record{}
	backend.Fetch(ctx, func(recs []records.Record) { initial = recs })

	coll, err := models.NewCollection(Schema, initial, nil)
	if err != nil {
		return nil, err
	}
	spec, err := ItemSpec(ctx, backend)
	if err != nil {
		return nil, err
	}
	list, err := fastview.NewViewCollection(
		coll,
		spec,
		append([]fastview.CollectionOption{
			fastview.WithID(ListID),
			fastview.WithTag("ul"),
			fastview.WithContext(ctx),
		}, opts...)...)
	if err != nil {
		return nil, err
	}

	feeds := channerics.Broadcast(ctx.Done(), Poll(ctx, backend, refresh), 2)
	fastview.Feed(ctx.Done(), feeds[0], coll)

	summaries, err := fastview.NewViewBuilder[[]records.Record, Summary]().
		WithContext(ctx).
		WithModel(feeds[1], Summarize).
		WithView(func(
			done <-chan struct{},
			updates <-chan Summary,
		) (fastview.ViewComponent, error) {
			return NewSummaryView(SummaryID, Summarize(initial), done, updates), nil
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return append([]fastview.ViewComponent{list}, summaries...), nil
}
