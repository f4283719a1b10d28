package fastview

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"unseen/models"
	"unseen/records"
)

// Template renders the markup fragment for the index'th model of a view.
type Template func(model *models.Model, index int) (string, error)

// TemplateData is what HTMLTemplate executes its text with.
type TemplateData struct {
	Model  *models.Model
	Index  int
	Key    models.Key
	Fields records.Record
}

// HTMLTemplate builds a Template from html/template text. The text is executed
// with a TemplateData, so fields are available as {{ .Fields.name }}.
func HTMLTemplate(name, text string, funcs template.FuncMap) (Template, error) {
	t, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}

	return func(model *models.Model, index int) (string, error) {
		var buf bytes.Buffer
		err := t.Execute(&buf, TemplateData{
			Model:  model,
			Index:  index,
			Key:    model.Key(),
			Fields: model.Record(),
		})
		return buf.String(), err
	}, nil
}

// Binding names the handler invoked for an event type on a selector.
type Binding struct {
	Event   string
	Handler string
}

// EventTable maps id selectors (e.g. "#button-delete") to bindings.
// Selectors are not unique per view: the view collection keys them by view.
type EventTable map[string]Binding

// Handler handles an event dispatched to a view.
type Handler func(v *View, ev Event) error

// ViewSpec describes a kind of view: how it renders and which events it handles.
// A ViewSpec is shared by every view a collection builds from it.
type ViewSpec struct {
	// Tag is the root element tag, "div" if empty.
	Tag string
	// ID is the base id of the root element, suffixed by the view key.
	ID string
	// Classes is the class list of the root element.
	Classes []string
	// Template renders one model.
	Template Template
	// Events maps interior selectors to handler names.
	Events EventTable
	// Handlers are the named handler methods of the view.
	Handlers map[string]Handler
}

var (
	// ErrNoTemplate is returned when a view is specified without a template.
	ErrNoTemplate = errors.New("fastview: no template specified")
	// ErrUnknownHandler is returned when an event binding names an undefined handler.
	ErrUnknownHandler = errors.New("fastview: event bound to undefined handler")
	// ErrNoModel is returned when a view is built without a model or collection.
	ErrNoModel = errors.New("fastview: no model specified")
)

// Validate checks that the spec can render and that every binding resolves.
func (spec *ViewSpec) Validate() error {
	if spec.Template == nil {
		return ErrNoTemplate
	}
	for selector, b := range spec.Events {
		if _, ok := spec.Handlers[b.Handler]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownHandler, selector, b.Handler)
		}
	}
	return nil
}

func (spec *ViewSpec) wraps() bool {
	return spec.ID != "" || len(spec.Classes) > 0
}

func (spec *ViewSpec) tag() string {
	if spec.Tag == "" {
		return "div"
	}
	return spec.Tag
}

// View renders one model, or every model of a collection, with its spec's template.
type View struct {
	spec   *ViewSpec
	key    models.Key
	model  *models.Model
	coll   *models.Collection
	parent *ViewCollection
}

// NewView returns a view of a single model, keyed by the model's key.
func NewView(spec ViewSpec, model *models.Model) (*View, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &View{spec: &spec, key: model.Key(), model: model}, nil
}

// NewCollectionView returns a view rendering every model of coll under a single root.
func NewCollectionView(spec ViewSpec, coll *models.Collection, key models.Key) (*View, error) {
	if coll == nil {
		return nil, ErrNoModel
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &View{spec: &spec, key: key, coll: coll}, nil
}

// Key returns the view's key, which suffixes every id it renders.
func (v *View) Key() models.Key {
	return v.key
}

// Model returns the view's model, nil for collection views.
func (v *View) Model() *models.Model {
	return v.model
}

// Parent returns the view collection owning the view, if any.
func (v *View) Parent() *ViewCollection {
	return v.parent
}

// Events returns the view's selector to binding table.
func (v *View) Events() EventTable {
	return v.spec.Events
}

// ElementID returns the rendered id of the view's root element, empty if it has none.
func (v *View) ElementID() string {
	if v.spec.ID == "" {
		return ""
	}
	return v.spec.ID + v.suffix()
}

func (v *View) suffix() string {
	if v.key == "" {
		return ""
	}
	return models.KeySeparator + string(v.key)
}

func (v *View) models() []*models.Model {
	if v.coll != nil {
		return v.coll.Models()
	}
	return []*models.Model{v.model}
}

// Matches id attributes, excluding data-id and similar.
var idAttr = regexp.MustCompile(`(^|\s)id="([^"]*)"`)

// Render returns the view's markup. Fragments are wrapped in the root element
// unless the spec has neither id nor classes, in which case the bare
// concatenation is returned. Interior ids are suffixed by the view key so that
// many views may be concatenated into a single document.
// Render has no side effects and may be called any number of times.
func (v *View) Render() (string, error) {
	var body strings.Builder
	for i, m := range v.models() {
		frag, err := v.spec.Template(m, i)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", v.ElementID(), err)
		}
		body.WriteString(frag)
	}

	if !v.spec.wraps() {
		return body.String(), nil
	}

	inner := body.String()
	if suffix := v.suffix(); suffix != "" {
		escaped := strings.ReplaceAll(template.HTMLEscapeString(suffix), "$", "$$")
		inner = idAttr.ReplaceAllString(inner, `${1}id="${2}`+escaped+`"`)
	}

	attrs := []string{}
	if id := v.ElementID(); id != "" {
		attrs = append(attrs, `id="`+template.HTMLEscapeString(id)+`"`)
	}
	if len(v.spec.Classes) > 0 {
		attrs = append(attrs, `class="`+template.HTMLEscapeString(strings.Join(v.spec.Classes, " "))+`"`)
	}
	if v.key != "" {
		attrs = append(attrs, `data-view-key="`+template.HTMLEscapeString(string(v.key))+`"`)
	}

	return wrap(v.spec.tag(), attrs, inner), nil
}

func wrap(tag string, attrs []string, inner string) string {
	open := tag
	if len(attrs) > 0 {
		open += " " + strings.Join(attrs, " ")
	}
	return "<" + open + ">" + inner + "</" + tag + ">"
}
