package todo_views

import (
	"context"
	"errors"
	"fmt"

	"unseen/server/fastview"

	log "github.com/sirupsen/logrus"
)

// ErrDetached is returned when a handler needing the owning collection runs on a lone view.
var ErrDetached = errors.New("todo: view is not part of a view collection")

const itemTemplate = `<input id="toggle" type="checkbox"{{ if .Fields.done }} checked{{ end }}>` +
	`<span class="title{{ if .Fields.done }} done{{ end }}">{{ .Fields.title }}</span>` +
	`<button id="button-delete">delete</button>`

// items holds the handlers of the todo item views.
type items struct {
	ctx     context.Context
	backend Backend
}

// ItemSpec returns the spec of a todo item view: a list item with a checkbox
// toggling the todo and a button deleting it. Mutations are persisted to
// backend before being applied to the model.
func ItemSpec(ctx context.Context, backend Backend) (fastview.ViewSpec, error) {
	tmpl, err := fastview.HTMLTemplate("todo-item", itemTemplate, nil)
	if err != nil {
		return fastview.ViewSpec{}, err
	}

	it := &items{ctx: ctx, backend: backend}
	return fastview.ViewSpec{
		Tag:      "li",
		ID:       "todo",
		Classes:  []string{"todo"},
		Template: tmpl,
		Events: fastview.EventTable{
			"#toggle":        {Event: "click", Handler: "toggle"},
			"#button-delete": {Event: "click", Handler: "remove"},
		},
		Handlers: map[string]fastview.Handler{
			"toggle": it.toggle,
			"remove": it.remove,
		},
	}, nil
}

// toggle flips the todo's done flag.
func (it *items) toggle(v *fastview.View, _ fastview.Event) error {
	m := v.Model()
	done := !m.Bool("done")
	rec := m.Record()
	rec["done"] = done

	if err := it.backend.Save(it.ctx, m.Str("id"), rec); err != nil {
		return fmt.Errorf("toggle todo %s: %w", m.Str("id"), err)
	}
	return m.Set("done", done)
}

// remove deletes the todo and drops it from the collection.
func (it *items) remove(v *fastview.View, _ fastview.Event) error {
	parent := v.Parent()
	if parent == nil {
		return ErrDetached
	}
	id := v.Model().Str("id")

	if err := it.backend.Remove(it.ctx, id); err != nil {
		return fmt.Errorf("remove todo %s: %w", id, err)
	}
	parent.Collection().Remove(v.Key())
	log.WithField("id", id).Info("todo removed")
	return nil
}
