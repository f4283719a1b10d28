package fastview

import (
	"context"
	"errors"

	"unseen/models"
	"unseen/records"

	channerics "github.com/niceyeti/channerics/channels"
)

// ViewBuilder constructs one or more views fed by a common stream of view-models.
// The main responsibility for ViewBuilder is Build(): building views and wiring up chans/context.
type ViewBuilder[DataModel any, ViewModel any] struct {
	source      <-chan DataModel            // The source data, e.g. polled record batches
	viewModelFn func(DataModel) ViewModel   // Converts input data models to view models.
	builderFns  []ViewBuilderFunc[ViewModel] // The set of functions for building views.
	done        <-chan struct{}             // Okay if nil
}

// NewViewBuilder returns a builder for a given data-model and view-model.
func NewViewBuilder[DataModel any, ViewModel any]() *ViewBuilder[DataModel, ViewModel] {
	return &ViewBuilder[DataModel, ViewModel]{}
}

// WithModel sets the input channel and the function converting its items to view-models.
func (vb *ViewBuilder[DataModel, ViewModel]) WithModel(
	input <-chan DataModel,
	convert func(DataModel) ViewModel,
) *ViewBuilder[DataModel, ViewModel] {
	vb.source = input
	vb.viewModelFn = convert
	return vb
}

// ViewBuilderFunc builds a view from an input view-model channel and a 'done' channel for cleanup.
type ViewBuilderFunc[ViewModel any] func(<-chan struct{}, <-chan ViewModel) (ViewComponent, error)

// WithView adds a view to the list of views to build.
// They are returned in the same order as added when Build() is called.
func (vb *ViewBuilder[DataModel, ViewModel]) WithView(
	builderFn ViewBuilderFunc[ViewModel],
) *ViewBuilder[DataModel, ViewModel] {
	vb.builderFns = append(vb.builderFns, builderFn)
	return vb
}

// WithContext ensures that all downstream channels are closed when context is cancelled.
func (vb *ViewBuilder[DataModel, ViewModel]) WithContext(
	ctx context.Context,
) *ViewBuilder[DataModel, ViewModel] {
	vb.done = ctx.Done()
	return vb
}

// ErrNoViews is returned when Build() is called before the caller has added any views.
var ErrNoViews error = errors.New("no views to build: WithView must be called")

// ErrNoSource is returned when Build() is called before WithModel() has been called.
var ErrNoSource error = errors.New("no model specified: WithModel must be called")

// Build executes the stored builders, broadcasting every converted view-model
// to each view, and returns the views in the order they were added.
func (vb *ViewBuilder[DataModel, ViewModel]) Build() (views []ViewComponent, err error) {
	if len(vb.builderFns) == 0 {
		return nil, ErrNoViews
	}
	if vb.viewModelFn == nil || vb.source == nil {
		return nil, ErrNoSource
	}

	vmChan := channerics.Convert(vb.done, vb.source, vb.viewModelFn)
	vmChans := channerics.Broadcast(vb.done, vmChan, len(vb.builderFns))
	for i, build := range vb.builderFns {
		view, buildErr := build(vb.done, vmChans[i])
		if buildErr != nil {
			return nil, buildErr
		}
		views = append(views, view)
	}
	return
}

// Feed resets coll with every batch received that differs from its current
// records, until batches is closed or done is closed. The returned channel is
// closed when feeding stops.
func Feed(
	done <-chan struct{},
	batches <-chan []records.Record,
	coll *models.Collection,
) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for batch := range channerics.OrDone(done, batches) {
			if !coll.Equal(batch) {
				coll.Reset(batch)
			}
		}
	}()
	return stopped
}
