package root_view

import (
	"html/template"
	"time"

	"unseen/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
	log "github.com/sirupsen/logrus"
)

// The window within which ele-updates from all views are coalesced.
const batchRate = time.Millisecond * 20

// RootView is the main page's index.html, which is the container for all the
// view components, the wiring for their channels, and the entry point of
// client events.
type RootView struct {
	title       string
	views       []fastview.ViewComponent
	dispatchers []fastview.Dispatcher
	// byRoot indexes dispatchers by the id of the root element they render.
	byRoot map[string]fastview.Dispatcher
}

// rooted is implemented by dispatchers that render a root element, such as
// view collections.
type rooted interface {
	ID() string
}

// NewRootView creates the main page containing views, in order. Views that
// implement fastview.Dispatcher receive the client's events.
func NewRootView(title string, views ...fastview.ViewComponent) *RootView {
	rv := &RootView{
		title:  title,
		views:  views,
		byRoot: map[string]fastview.Dispatcher{},
	}
	for _, vc := range views {
		d, ok := vc.(fastview.Dispatcher)
		if !ok {
			continue
		}
		rv.dispatchers = append(rv.dispatchers, d)
		if r, ok := vc.(rooted); ok && r.ID() != "" {
			rv.byRoot[r.ID()] = d
		}
	}
	return rv
}

// Views returns the page's view components.
func (rv *RootView) Views() []fastview.ViewComponent {
	return rv.views
}

// Dispatch passes ev to the single view it is scoped to: the one whose root
// id is the event's ViewRoot. An unscoped event only reaches a page's sole
// dispatcher. Anything else is ignored, so one event fires at most one handler.
func (rv *RootView) Dispatch(ev fastview.Event) error {
	d, ok := rv.byRoot[ev.ViewRoot]
	if !ok && ev.ViewRoot == "" && len(rv.dispatchers) == 1 {
		d, ok = rv.dispatchers[0], true
	}
	if !ok {
		log.WithFields(log.Fields{
			"target": ev.TargetID,
			"root":   ev.ViewRoot,
		}).Debug("no view to dispatch event to")
		return nil
	}
	return d.Dispatch(ev)
}

// Updates returns the ele-updates of every view, plus the backlog of views
// that deferred part of their initial form, until done is closed.
// Views publish on a single channel, hence only one connection may listen at a time.
func (rv *RootView) Updates(done <-chan struct{}) <-chan []fastview.EleUpdate {
	return fanIn(done, rv.views)
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map that child components may depend on.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add": func(i, j int) int { return i + j },
			"sub": func(i, j int) int { return i - j },
		})

	viewTemplates := []string{}
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			err = parseErr
			return
		}
		viewTemplates = append(viewTemplates, tname)
	}

	// Specify the nested templates
	var bodySpec string
	for _, tname := range viewTemplates {
		bodySpec += (`{{ template "` + tname + `" . }}`)
	}

	// The main template bootstraps the rest: sets up the client websocket,
	// forwards clicks to the server and applies its updates.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<title>` + template.HTMLEscapeString(rv.title) + `</title>
			<link rel="icon" href="data:,">
			<style>
				.title.done { text-decoration: line-through; }
			</style>
			<!--The client bootstrap code by which events reach the server and view updates reach the page.-->
			<script>
				const scheme = location.protocol === "https:" ? "wss://" : "ws://";
				const ws = new WebSocket(scheme + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// Forward clicks on identified elements, scoped to the view collection enclosing them;
				// the server routes them to the view that rendered them.
				document.addEventListener("click", function (event) {
					const target = event.target.closest("[id]");
					if (!target || ws.readyState !== WebSocket.OPEN) {
						return;
					}
					const view = target.closest("[data-view-key]");
					const scope = target.closest("[data-view-root]");
					ws.send(JSON.stringify({
						Type: event.type,
						TargetID: target.id,
						ViewKey: view ? view.dataset.viewKey : "",
						ViewRoot: scope ? scope.dataset.viewRoot : "",
					}));
				});

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					const items = JSON.parse(event.data)
					for (const update of items) {
						let ele = document.getElementById(update.EleId)
						if (!ele) {
							continue;
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else if (op.Key === "outerHTML") {
								ele.outerHTML = op.Value;
								ele = document.getElementById(update.EleId);
								if (!ele) {
									break;
								}
							} else if (op.Key === "append") {
								ele.insertAdjacentHTML("beforeend", op.Value);
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}
			</script>
		</head>
		<body>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// fanIn aggregates the views' ele-update channels, and the backlogs of those
// that have one, into a single channel, and throttles its output.
func fanIn(
	done <-chan struct{},
	views []fastview.ViewComponent,
) <-chan []fastview.EleUpdate {
	inputs := make([]<-chan []fastview.EleUpdate, 0, len(views)*2)
	for _, view := range views {
		inputs = append(inputs, view.Updates())
		if bl, ok := view.(fastview.Backlogger); ok {
			if backlog := bl.Backlog(done); backlog != nil {
				inputs = append(inputs, backlog)
			}
		}
	}
	log.WithField("inputs", len(inputs)).Debug("fanning in view updates")
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		batchRate)
}

// batchify batches within the passed time frame before sending, merging updates
// received for the same ele-id: later values for an attribute overwrite earlier
// ones, appends accumulate, and outerHTML discards everything before it.
// Ele-ids are sent in the order they were first seen.
func batchify(
	done <-chan struct{},
	source <-chan []fastview.EleUpdate,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	output := make(chan []fastview.EleUpdate)

	go func() {
		defer close(output)

		b := newBatch()
		ticker := channerics.NewTicker(done, rate)
		input := source
		for {
			var out chan<- []fastview.EleUpdate
			var pending []fastview.EleUpdate
			if b.ready {
				out = output
				pending = b.updates()
			}

			select {
			case <-done:
				return
			case updates, ok := <-input:
				if !ok {
					// Flush what remains, then stop.
					if len(b.order) > 0 {
						select {
						case output <- b.updates():
						case <-done:
						}
					}
					return
				}
				for _, update := range updates {
					b.add(update)
				}
			case <-ticker:
				if len(b.order) > 0 {
					b.ready = true
				}
			case out <- pending:
				b = newBatch()
			}
		}
	}()

	return output
}

type batch struct {
	ops   map[string][]fastview.Op
	order []string
	ready bool
}

func newBatch() *batch {
	return &batch{ops: map[string][]fastview.Op{}}
}

func (b *batch) add(update fastview.EleUpdate) {
	ops, seen := b.ops[update.EleId]
	if !seen {
		b.order = append(b.order, update.EleId)
	}
	for _, op := range update.Ops {
		ops = mergeOp(ops, op)
	}
	b.ops[update.EleId] = ops
}

func mergeOp(ops []fastview.Op, op fastview.Op) []fastview.Op {
	switch op.Key {
	case fastview.OpOuterHTML:
		return []fastview.Op{op}
	case fastview.OpAppend:
		if n := len(ops); n > 0 && ops[n-1].Key == fastview.OpAppend {
			ops[n-1].Value += op.Value
			return ops
		}
		return append(ops, op)
	}
	// Attributes and textContent: the latest value wins, unless an
	// append or replacement followed the earlier one.
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Key == op.Key {
			ops[i].Value = op.Value
			return ops
		}
		if ops[i].Key == fastview.OpAppend || ops[i].Key == fastview.OpOuterHTML {
			break
		}
	}
	return append(ops, op)
}

func (b *batch) updates() []fastview.EleUpdate {
	updates := make([]fastview.EleUpdate, 0, len(b.order))
	for _, id := range b.order {
		updates = append(updates, fastview.EleUpdate{EleId: id, Ops: b.ops[id]})
	}
	return updates
}
