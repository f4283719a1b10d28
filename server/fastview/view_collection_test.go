package fastview

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"testing"
	"time"

	"unseen/models"
	"unseen/records"

	. "github.com/smartystreets/goconvey/convey"
)

// call records a handler invocation.
type call struct {
	handler string
	key     models.Key
}

func itemSpec(calls *[]call) ViewSpec {
	record := func(name string) Handler {
		return func(v *View, ev Event) error {
			*calls = append(*calls, call{handler: name, key: v.Key()})
			return nil
		}
	}
	return ViewSpec{
		Tag:      "li",
		ID:       "item",
		Template: mustTemplate(itemText),
		Events: EventTable{
			"#button-delete": {Event: "click", Handler: "remove"},
			"#label":         {Event: "click", Handler: "select"},
		},
		Handlers: map[string]Handler{
			"remove": record("remove"),
			"select": record("select"),
		},
	}
}

func namedRecords(n int) []records.Record {
	recs := make([]records.Record, n)
	for i := range recs {
		recs[i] = records.Record{"id": i + 1, "name": fmt.Sprintf("n%d", i)}
	}
	return recs
}

func TestViewCollectionRender(t *testing.T) {
	Convey("When rendering a view collection", t, func() {
		var calls []call
		coll, _ := models.NewCollection(itemSchema, []records.Record{{"name": "A"}, {"name": "B"}}, nil)
		vc, err := NewViewCollection(coll, itemSpec(&calls), WithID("items"), WithTag("ul"))
		So(err, ShouldBeNil)

		Convey("Views are built in collection order, keyed like their models", func() {
			So(vc.Len(), ShouldEqual, 2)
			for i, v := range vc.Views() {
				So(v.Key(), ShouldEqual, models.IndexKey(i))
				So(v.Model(), ShouldEqual, coll.At(i))
				So(v.Parent(), ShouldEqual, vc)
			}
		})

		Convey("Child markup is concatenated inside the root element", func() {
			markup, err := vc.Render()
			So(err, ShouldBeNil)
			So(markup, ShouldEqual, `<ul id="items" data-view-root="items">`+
				`<li id="item-0" data-view-key="0"><span id="label-0">A</span><button id="button-delete-0" data-id="0">x</button></li>`+
				`<li id="item-1" data-view-key="1"><span id="label-1">B</span><button id="button-delete-1" data-id="1">x</button></li>`+
				`</ul>`)
		})

		Convey("Rendering is idempotent", func() {
			first, _ := vc.Render()
			second, _ := vc.Render()
			So(second, ShouldEqual, first)
		})

		Convey("Resets rebuild the views", func() {
			coll.Reset(namedRecords(3))
			So(vc.Len(), ShouldEqual, 3)
			So(vc.Get("2").Model().Get("name"), ShouldEqual, "n2")
		})

		Convey("Adds and removes keep the views in lockstep", func() {
			key, _ := coll.Add("", records.Record{"name": "C"})
			So(vc.Get(key), ShouldNotBeNil)
			So(vc.Get(key).Model(), ShouldEqual, coll.Get(key))

			coll.Remove("0")
			So(vc.Get("0"), ShouldBeNil)
			So(vc.Len(), ShouldEqual, coll.Len())
		})

		Convey("Replacing a model replaces its view", func() {
			old := vc.Get("1")
			_, _ = coll.Add("1", records.Record{"name": "Z"})
			So(vc.Get("1"), ShouldNotEqual, old)
			So(vc.Get("1").Model().Get("name"), ShouldEqual, "Z")
		})
	})

	Convey("When building a view collection without a collection", t, func() {
		_, err := NewViewCollection(nil, ViewSpec{Template: mustTemplate(itemText)})
		So(err, ShouldEqual, ErrNoCollection)
	})
}

func TestViewCollectionDispatch(t *testing.T) {
	Convey("When dispatching events at the root", t, func() {
		var calls []call
		n := 5
		coll, _ := models.NewCollection(itemSchema, namedRecords(n), nil)
		vc, err := NewViewCollection(coll, itemSpec(&calls), WithID("items"))
		So(err, ShouldBeNil)

		Convey("A click on the nth item's button reaches only the nth view", func() {
			for i := 0; i < n; i++ {
				calls = nil
				target := fmt.Sprintf("button-delete-%d", i)
				So(vc.Dispatch(Event{Type: "click", TargetID: target}), ShouldBeNil)
				So(calls, ShouldResemble, []call{{handler: "remove", key: models.IndexKey(i)}})
			}
		})

		Convey("Two views with the same selector are distinguished", func() {
			So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-0"}), ShouldBeNil)
			So(calls, ShouldResemble, []call{{handler: "remove", key: "0"}})
		})

		Convey("The rendered ids route back to their handlers", func() {
			markup, _ := vc.Render()
			So(strings.Contains(markup, `id="label-4"`), ShouldBeTrue)
			So(vc.Dispatch(Event{Type: "click", TargetID: "label-4"}), ShouldBeNil)
			So(calls, ShouldResemble, []call{{handler: "select", key: "4"}})
		})

		Convey("The client supplied view key addresses the registry directly", func() {
			So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-2", ViewKey: "2"}), ShouldBeNil)
			So(calls, ShouldResemble, []call{{handler: "remove", key: "2"}})
		})

		Convey("Events scoped to the collection's root are dispatched", func() {
			So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-3", ViewKey: "3", ViewRoot: "items"}), ShouldBeNil)
			So(calls, ShouldResemble, []call{{handler: "remove", key: "3"}})
		})

		Convey("Events scoped to another root are ignored", func() {
			So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-0", ViewKey: "0", ViewRoot: "others"}), ShouldBeNil)
			So(calls, ShouldBeEmpty)
		})

		Convey("A target without a key separator is an error", func() {
			err := vc.Dispatch(Event{Type: "click", TargetID: "nokey"})
			So(errors.Is(err, ErrNoKeySeparator), ShouldBeTrue)
			So(calls, ShouldBeEmpty)
		})

		Convey("Misses are silently ignored", func() {
			So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-99"}), ShouldBeNil)
			So(vc.Dispatch(Event{Type: "click", TargetID: "unbound-0"}), ShouldBeNil)
			So(vc.Dispatch(Event{Type: "mouseover", TargetID: "button-delete-0"}), ShouldBeNil)
			So(vc.Dispatch(Event{Type: "click", TargetID: "todo-items"}), ShouldBeNil)
			So(calls, ShouldBeEmpty)
		})

		Convey("Handler errors are returned", func() {
			boom := errors.New("boom")
			spec := itemSpec(&calls)
			spec.Handlers["remove"] = func(*View, Event) error { return boom }
			other, _ := models.NewCollection(itemSchema, namedRecords(1), nil)
			vc2, _ := NewViewCollection(other, spec)
			So(vc2.Dispatch(Event{Type: "click", TargetID: "button-delete-0"}), ShouldEqual, boom)
		})

		Convey("Handlers may mutate the collection they are dispatched from", func() {
			spec := itemSpec(&calls)
			spec.Handlers["remove"] = func(v *View, _ Event) error {
				v.Parent().Collection().Remove(v.Key())
				return nil
			}
			other, _ := models.NewCollection(itemSchema, namedRecords(3), nil)
			vc2, _ := NewViewCollection(other, spec)
			So(vc2.Dispatch(Event{Type: "click", TargetID: "button-delete-1"}), ShouldBeNil)
			So(other.Len(), ShouldEqual, 2)
			So(vc2.Get("1"), ShouldBeNil)
		})
	})

	Convey("When dispatching on a nested view collection", t, func() {
		coll, _ := models.NewCollection(itemSchema, namedRecords(1), nil)
		var calls []call
		vc, _ := NewViewCollection(coll, itemSpec(&calls), WithID("nested"), WithParent(models.OwnerFunc(func(models.Notice) {})))
		So(vc.Dispatch(Event{Type: "click", TargetID: "button-delete-0"}), ShouldEqual, ErrNotRoot)

		markup, _ := vc.Render()
		So(markup, ShouldStartWith, `<div id="nested">`)
	})
}

func TestViewCollectionUpdates(t *testing.T) {
	Convey("When models of a view collection change", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var notices []models.Notice
		var calls []call
		coll, _ := models.NewCollection(itemSchema, namedRecords(2), nil)
		vc, _ := NewViewCollection(coll, itemSpec(&calls),
			WithID("items"),
			WithContext(ctx),
			WithOwner(models.OwnerFunc(func(n models.Notice) { notices = append(notices, n) })))

		Convey("A change re-renders only the changed view", func() {
			So(coll.At(1).Set("name", "renamed"), ShouldBeNil)

			updates := receive(vc.Updates())
			So(len(updates), ShouldEqual, 1)
			So(updates[0].EleId, ShouldEqual, "item-1")
			So(updates[0].Ops[0].Key, ShouldEqual, OpOuterHTML)
			So(updates[0].Ops[0].Value, ShouldContainSubstring, `<span id="label-1">renamed</span>`)
			So(notices, ShouldResemble, []models.Notice{{Type: models.Change, Key: "1"}})
		})

		Convey("A reset re-renders the root", func() {
			coll.Reset(namedRecords(3))
			updates := receive(vc.Updates())
			So(len(updates), ShouldEqual, 1)
			So(updates[0].EleId, ShouldEqual, "items")
			So(strings.Count(updates[0].Ops[0].Value, "data-view-key"), ShouldEqual, 3)
			So(notices, ShouldResemble, []models.Notice{{Type: models.Reset}})
		})

		Convey("Repeated updates to one element are coalesced", func() {
			So(coll.At(0).Set("name", "a"), ShouldBeNil)
			So(coll.At(0).Set("name", "b"), ShouldBeNil)
			updates := receive(vc.Updates())
			So(len(updates), ShouldEqual, 1)
			So(updates[0].Ops[0].Value, ShouldContainSubstring, ">b<")
		})
	})
}

func receive(ch <-chan []EleUpdate) []EleUpdate {
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		panic("timed out waiting for updates")
	}
}

func TestViewCollectionParse(t *testing.T) {
	Convey("When embedding a view collection into a page", t, func() {
		var calls []call
		coll, _ := models.NewCollection(itemSchema, namedRecords(3), nil)

		Convey("Parse defines a template rendering the collection", func() {
			vc, _ := NewViewCollection(coll, itemSpec(&calls), WithID("todo-items"))
			page := template.New("page")
			name, err := vc.Parse(page)
			So(err, ShouldBeNil)
			So(name, ShouldEqual, "todo-items")

			_, err = page.Parse(`<body>{{ template "todo-items" . }}</body>`)
			So(err, ShouldBeNil)
			var sb strings.Builder
			So(page.Execute(&sb, nil), ShouldBeNil)

			want, _ := vc.Render()
			So(sb.String(), ShouldEqual, "<body>"+want+"</body>")
			So(vc.Backlog(nil), ShouldBeNil)
		})

		Convey("Over the deferred threshold only the shell is embedded, the rest is backlogged", func() {
			vc, _ := NewViewCollection(coll, itemSpec(&calls), WithID("items"), WithDeferred(2, 2, time.Millisecond))
			page := template.New("page")
			_, err := vc.Parse(page)
			So(err, ShouldBeNil)
			_, _ = page.Parse(`{{ template "items" . }}`)
			var sb strings.Builder
			So(page.Execute(&sb, nil), ShouldBeNil)
			So(sb.String(), ShouldEqual, `<div id="items" data-view-root="items"></div>`)

			var appended []string
			for updates := range vc.Backlog(nil) {
				So(updates[0].EleId, ShouldEqual, "items")
				So(updates[0].Ops[0].Key, ShouldEqual, OpAppend)
				appended = append(appended, updates[0].Ops[0].Value)
			}
			So(len(appended), ShouldEqual, 2)
			full, _ := vc.Render()
			So(`<div id="items" data-view-root="items">`+strings.Join(appended, "")+`</div>`, ShouldEqual, full)
		})

		Convey("A later render replaces the undelivered backlog", func() {
			vc, _ := NewViewCollection(coll, itemSpec(&calls), WithID("items"), WithDeferred(2, 3, time.Millisecond))
			page := template.New("page")
			_, _ = vc.Parse(page)
			_, _ = page.Parse(`{{ template "items" . }}`)
			So(page.Execute(&strings.Builder{}, nil), ShouldBeNil)
			coll.Reset(namedRecords(4))
			So(page.Execute(&strings.Builder{}, nil), ShouldBeNil)

			var batches [][]EleUpdate
			for updates := range vc.Backlog(nil) {
				batches = append(batches, updates)
			}
			So(batches, ShouldHaveLength, 2)
			So(strings.Count(batches[0][0].Ops[0].Value, "data-view-key"), ShouldEqual, 3)
			So(strings.Count(batches[1][0].Ops[0].Value, "data-view-key"), ShouldEqual, 1)
			So(vc.Backlog(nil), ShouldBeNil)
		})

		Convey("A collection without an id cannot be embedded", func() {
			vc, _ := NewViewCollection(coll, itemSpec(&calls))
			_, err := vc.Parse(template.New("page"))
			So(err, ShouldEqual, ErrNoRootID)
		})
	})
}

func TestViewCollectionRenderDeferred(t *testing.T) {
	Convey("When rendering a view collection deferred", t, func() {
		var calls []call
		coll, _ := models.NewCollection(itemSchema, namedRecords(5), nil)
		vc, _ := NewViewCollection(coll, itemSpec(&calls), WithID("items"), WithTag("ul"))
		done := make(chan struct{})

		Convey("The shell is empty and the chunks append every child in order", func() {
			defer close(done)
			shell, chunks, err := vc.RenderDeferred(done, 2, time.Millisecond)
			So(err, ShouldBeNil)
			So(shell, ShouldEqual, `<ul id="items" data-view-root="items"></ul>`)

			var appended []string
			for updates := range chunks {
				So(updates, ShouldHaveLength, 1)
				So(updates[0].EleId, ShouldEqual, "items")
				appended = append(appended, updates[0].Ops[0].Value)
			}
			So(appended, ShouldHaveLength, 3)
			full, _ := vc.Render()
			So(`<ul id="items" data-view-root="items">`+strings.Join(appended, "")+`</ul>`, ShouldEqual, full)
		})

		Convey("Closing done abandons the chunks not yet sent", func() {
			_, chunks, err := vc.RenderDeferred(done, 1, time.Hour)
			So(err, ShouldBeNil)
			close(done)

			_, ok := <-chunks
			So(ok, ShouldBeFalse)
		})

		Convey("A collection without an id has nothing to append to", func() {
			defer close(done)
			anon, _ := NewViewCollection(coll, itemSpec(&calls))
			_, _, err := anon.RenderDeferred(done, 1, time.Millisecond)
			So(err, ShouldEqual, ErrNoRootID)
		})
	})
}
