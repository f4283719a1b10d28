package fastview

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"sync"
	"time"

	"unseen/models"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoCollection is returned when a view collection is built without a model collection.
	ErrNoCollection = errors.New("fastview: no model collection specified")
	// ErrNoKeySeparator is returned when an event target's id carries no view key suffix.
	ErrNoKeySeparator = errors.New("fastview: event target id has no key separator")
	// ErrNotRoot is returned when dispatching on a nested view collection.
	ErrNotRoot = errors.New("fastview: events are only dispatched at the top-level view collection")
	// ErrNoRootID is returned when a view collection without an id is asked for something addressable.
	ErrNoRootID = errors.New("fastview: view collection has no id")
)

// ViewCollection owns one view per model of a collection, built in collection
// order and keyed by the model's key. It owns the collection: model notices
// keep the views in lockstep, are turned into ele-updates, and are forwarded
// to the view collection's own owner.
type ViewCollection struct {
	coll    *models.Collection
	spec    ViewSpec
	tag     string
	id      string
	classes []string
	owner   models.Owner
	root    bool
	done    <-chan struct{}

	deferThreshold int
	deferPerTick   int
	deferInterval  time.Duration

	mu       sync.RWMutex
	views    map[models.Key]*View
	order    []models.Key
	registry map[models.Key]EventTable

	// The deferred children of the last page render, and the means to abandon them.
	backlog     <-chan []EleUpdate
	stopBacklog func()

	pendMu  sync.Mutex
	pending map[string]EleUpdate
	signal  chan struct{}
	updates chan []EleUpdate
	once    sync.Once
}

// CollectionOption configures a ViewCollection.
type CollectionOption func(*ViewCollection)

// WithID sets the id of the collection's root element.
func WithID(id string) CollectionOption {
	return func(vc *ViewCollection) { vc.id = id }
}

// WithClasses sets the class list of the collection's root element.
func WithClasses(classes ...string) CollectionOption {
	return func(vc *ViewCollection) { vc.classes = classes }
}

// WithTag sets the collection's root element tag; the default is "div".
func WithTag(tag string) CollectionOption {
	return func(vc *ViewCollection) { vc.tag = tag }
}

// WithOwner forwards every notice to owner. The collection remains top-level.
func WithOwner(owner models.Owner) CollectionOption {
	return func(vc *ViewCollection) { vc.owner = owner }
}

// WithParent nests the collection under parent, which receives its notices.
// Nested collections do not dispatch events; their parent's root does.
func WithParent(parent models.Owner) CollectionOption {
	return func(vc *ViewCollection) {
		vc.owner = parent
		vc.root = false
	}
}

// WithContext stops the update publisher when ctx is cancelled.
func WithContext(ctx context.Context) CollectionOption {
	return func(vc *ViewCollection) { vc.done = ctx.Done() }
}

// WithDeferred renders only an empty root into pages when the collection holds
// more than threshold models; children are then appended perTick at a time,
// every interval, once a client listens for the backlog.
func WithDeferred(threshold, perTick int, interval time.Duration) CollectionOption {
	return func(vc *ViewCollection) {
		vc.deferThreshold = threshold
		vc.deferPerTick = perTick
		vc.deferInterval = interval
	}
}

// NewViewCollection builds one view per model of coll from spec, and takes
// ownership of coll.
func NewViewCollection(
	coll *models.Collection,
	spec ViewSpec,
	opts ...CollectionOption,
) (*ViewCollection, error) {
	if coll == nil {
		return nil, ErrNoCollection
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	vc := &ViewCollection{
		coll:    coll,
		spec:    spec,
		root:    true,
		pending: map[string]EleUpdate{},
		signal:  make(chan struct{}, 1),
		updates: make(chan []EleUpdate),
	}
	for _, opt := range opts {
		opt(vc)
	}

	vc.sync()
	coll.SetOwner(vc)
	return vc, nil
}

// sync rebuilds the view mapping from the collection's current models, reusing
// views whose model is unchanged. Views are only built here, in collection
// order, so a view's key always equals its model's key.
func (vc *ViewCollection) sync() {
	ms := vc.coll.Models()

	vc.mu.Lock()
	defer vc.mu.Unlock()

	views := make(map[models.Key]*View, len(ms))
	order := make([]models.Key, 0, len(ms))
	registry := make(map[models.Key]EventTable, len(ms))
	for _, m := range ms {
		key := m.Key()
		v, ok := vc.views[key]
		if !ok || v.model != m {
			v = &View{spec: &vc.spec, key: key, model: m, parent: vc}
		}
		views[key] = v
		order = append(order, key)
		registry[key] = v.Events()
	}
	vc.views, vc.order, vc.registry = views, order, registry
}

// Collection returns the model collection the views are bound to.
func (vc *ViewCollection) Collection() *models.Collection {
	return vc.coll
}

// ID returns the id of the collection's root element.
func (vc *ViewCollection) ID() string {
	return vc.id
}

// Get returns the view at key, or nil if absent.
func (vc *ViewCollection) Get(key models.Key) *View {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.views[key]
}

// Len returns the number of views.
func (vc *ViewCollection) Len() int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return len(vc.views)
}

// Views returns the views in collection order.
func (vc *ViewCollection) Views() []*View {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	views := make([]*View, 0, len(vc.order))
	for _, k := range vc.order {
		views = append(views, vc.views[k])
	}
	return views
}

func (vc *ViewCollection) fragments() ([]string, error) {
	views := vc.Views()
	frags := make([]string, 0, len(views))
	for _, v := range views {
		markup, err := v.Render()
		if err != nil {
			return nil, err
		}
		frags = append(frags, markup)
	}
	return frags, nil
}

func (vc *ViewCollection) wrap(inner string) string {
	if vc.id == "" && len(vc.classes) == 0 {
		return inner
	}
	attrs := []string{}
	if vc.id != "" {
		id := template.HTMLEscapeString(vc.id)
		attrs = append(attrs, `id="`+id+`"`)
		if vc.root {
			attrs = append(attrs, `data-view-root="`+id+`"`)
		}
	}
	if len(vc.classes) > 0 {
		attrs = append(attrs, `class="`+template.HTMLEscapeString(strings.Join(vc.classes, " "))+`"`)
	}
	tag := vc.tag
	if tag == "" {
		tag = "div"
	}
	return wrap(tag, attrs, inner)
}

// Render renders every child view and concatenates their markup inside the
// collection's root element.
func (vc *ViewCollection) Render() (string, error) {
	frags, err := vc.fragments()
	if err != nil {
		return "", err
	}
	return vc.wrap(strings.Join(frags, "")), nil
}

// RenderDeferred returns the collection's empty root and a channel appending
// the child markup to it, perTick views at a time every interval. The channel
// is closed once every child has been sent, or when done is closed.
func (vc *ViewCollection) RenderDeferred(
	done <-chan struct{},
	perTick int,
	interval time.Duration,
) (shell string, chunks <-chan []EleUpdate, err error) {
	if vc.id == "" {
		return "", nil, ErrNoRootID
	}
	frags, err := vc.fragments()
	if err != nil {
		return "", nil, err
	}
	return vc.wrap(""), DeferredAppend(done, vc.id, frags, perTick, interval), nil
}

// Dispatch routes ev to the handler of the view that rendered its target.
// The view key is the event's ViewKey when present; otherwise it is recovered
// from the target id's suffix, and an id without one is an error. Events
// scoped to another root, or matching no view, selector or event type, are
// ignored.
func (vc *ViewCollection) Dispatch(ev Event) error {
	if !vc.root {
		return ErrNotRoot
	}
	if ev.ViewRoot != "" && ev.ViewRoot != vc.id {
		return nil
	}

	key, selector, err := splitTarget(ev)
	if err != nil {
		return err
	}

	vc.mu.RLock()
	table, ok := vc.registry[key]
	view := vc.views[key]
	vc.mu.RUnlock()
	if !ok {
		return nil
	}

	binding, ok := table["#"+selector]
	if !ok || binding.Event != ev.Type {
		return nil
	}

	log.WithFields(log.Fields{
		"view":    vc.id,
		"key":     key,
		"handler": binding.Handler,
	}).Debug("dispatching event")
	return view.spec.Handlers[binding.Handler](view, ev)
}

// splitTarget returns the view key and the unsuffixed selector id of an event target.
func splitTarget(ev Event) (models.Key, string, error) {
	if ev.ViewKey != "" {
		return models.Key(ev.ViewKey), strings.TrimSuffix(ev.TargetID, models.KeySeparator+ev.ViewKey), nil
	}
	i := strings.LastIndex(ev.TargetID, models.KeySeparator)
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrNoKeySeparator, ev.TargetID)
	}
	return models.Key(ev.TargetID[i+1:]), ev.TargetID[:i], nil
}

// Notify keeps the views in lockstep with the collection, queues the
// ele-updates reflecting the mutation, and forwards the notice upward.
func (vc *ViewCollection) Notify(n models.Notice) {
	switch n.Type {
	case models.Change:
		if v := vc.Get(n.Key); v != nil && v.ElementID() != "" {
			vc.queueView(v)
		} else {
			vc.queueRoot()
		}
	default:
		vc.sync()
		vc.queueRoot()
	}

	if vc.owner != nil {
		vc.owner.Notify(n)
	}
}

func (vc *ViewCollection) queueView(v *View) {
	markup, err := v.Render()
	if err != nil {
		log.WithError(err).Error("failed to render view update")
		return
	}
	vc.queue(EleUpdate{
		EleId: v.ElementID(),
		Ops:   []Op{{Key: OpOuterHTML, Value: markup}},
	})
}

func (vc *ViewCollection) queueRoot() {
	if vc.id == "" {
		log.Debug("view collection has no id, dropping root update")
		return
	}
	markup, err := vc.Render()
	if err != nil {
		log.WithError(err).Error("failed to render view collection update")
		return
	}
	vc.queue(EleUpdate{
		EleId: vc.id,
		Ops:   []Op{{Key: OpOuterHTML, Value: markup}},
	})
}

// queue stores u, overwriting pending updates for the same element, and wakes the publisher.
func (vc *ViewCollection) queue(u EleUpdate) {
	vc.pendMu.Lock()
	vc.pending[u.EleId] = u
	vc.pendMu.Unlock()

	select {
	case vc.signal <- struct{}{}:
	default:
	}
}

// Updates returns the channel of ele-updates reflecting model mutations.
// Updates queued while nobody receives are coalesced per element.
func (vc *ViewCollection) Updates() <-chan []EleUpdate {
	vc.once.Do(func() {
		go vc.publish()
	})
	return vc.updates
}

func (vc *ViewCollection) publish() {
	defer close(vc.updates)

	for {
		select {
		case <-vc.done:
			return
		case <-vc.signal:
		}

		vc.pendMu.Lock()
		batch := slicedVals(vc.pending)
		vc.pending = map[string]EleUpdate{}
		vc.pendMu.Unlock()
		if len(batch) == 0 {
			continue
		}

		select {
		case vc.updates <- batch:
		case <-vc.done:
			return
		}
	}
}

// Backlog delivers the children withheld from the last deferred page render,
// if any. Delivery is abandoned once done is closed.
func (vc *ViewCollection) Backlog(done <-chan struct{}) <-chan []EleUpdate {
	vc.mu.Lock()
	chunks, stop := vc.backlog, vc.stopBacklog
	vc.backlog, vc.stopBacklog = nil, nil
	vc.mu.Unlock()

	if chunks == nil {
		return nil
	}
	go func() {
		select {
		case <-done:
		case <-vc.done:
		}
		stop()
	}()
	return chunks
}

// pageMarkup renders the collection for embedding in a page. Over the
// deferred threshold only the shell is embedded and the children become the
// backlog, replacing any backlog a previous render left undelivered.
func (vc *ViewCollection) pageMarkup() (template.HTML, error) {
	if vc.deferThreshold <= 0 || vc.id == "" || vc.Len() <= vc.deferThreshold {
		markup, err := vc.Render()
		return template.HTML(markup), err
	}

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopped) }) }

	shell, chunks, err := vc.RenderDeferred(stopped, vc.deferPerTick, vc.deferInterval)
	if err != nil {
		return "", err
	}

	vc.mu.Lock()
	if vc.stopBacklog != nil {
		vc.stopBacklog()
	}
	vc.backlog, vc.stopBacklog = chunks, stop
	vc.mu.Unlock()
	return template.HTML(shell), nil
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Parse defines a template named after the collection's id which renders the
// collection, and returns its name.
func (vc *ViewCollection) Parse(t *template.Template) (name string, err error) {
	if vc.id == "" {
		return "", ErrNoRootID
	}
	name = vc.id
	// Func names must be identifiers, while ids are commonly hyphenated.
	fn := "render_" + nonIdent.ReplaceAllString(vc.id, "_")
	_, err = t.Funcs(template.FuncMap{fn: vc.pageMarkup}).Parse(
		`{{ define "` + name + `" }}{{ ` + fn + ` }}{{ end }}`)
	return
}

// returns the values of a map as a slice
func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
