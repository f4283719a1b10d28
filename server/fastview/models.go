// fastview implements server side views over bound models: views render
// models to markup, view collections keep one view per model, route client
// events to the view that produced the event target, and publish
// ele-updates when models change.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attrib keys or one of the reserved keys below, values are the strings
	// to which these are set. Example: ('x','123') means 'set attribute 'x' to 123'.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// Reserved op keys, which the client applies to the element itself instead of an attribute.
const (
	// OpTextContent sets ele.textContent.
	OpTextContent = "textContent"
	// OpOuterHTML replaces the element with the value's markup.
	OpOuterHTML = "outerHTML"
	// OpAppend inserts the value's markup at the end of the element's children.
	OpAppend = "append"
)

// Event is a DOM event forwarded by the client.
type Event struct {
	// Type is the DOM event type, e.g. "click".
	Type string
	// TargetID is the id of the event target.
	TargetID string
	// ViewKey is the data-view-key of the closest rendered view root, if the client found one.
	ViewKey string `json:",omitempty"`
	// ViewRoot is the id of the top-level view collection enclosing the target, if any.
	ViewRoot string `json:",omitempty"`
}

// ViewComponent implements server side views: Parse to embed their initial form
// into a page and Updates to obtain the chan by which ele-updates are notified.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	// Parse parses the view-component and adds it to the passed parent template,
	// returning the name of the template it defined.
	Parse(*template.Template) (string, error)
}

// Backlogger is implemented by components that rendered a partial initial form
// and deliver the rest as append updates once a client is listening.
type Backlogger interface {
	Backlog(done <-chan struct{}) <-chan []EleUpdate
}

// Dispatcher routes client events to handlers.
type Dispatcher interface {
	Dispatch(Event) error
}

// DispatchFunc adapts a function to a Dispatcher.
type DispatchFunc func(Event) error

func (f DispatchFunc) Dispatch(ev Event) error { return f(ev) }
