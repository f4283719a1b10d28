package todo_views

import (
	"unseen/records"

	"github.com/spf13/cast"
)

// Schema is the todo record schema. Records missing a field, or carrying a
// falsy value for it, show the default.
var Schema = records.MustSchema(
	records.Field{Name: "id", Default: 0},
	records.Field{Name: "title", Default: "Untitled"},
	records.Field{Name: "done", Default: false},
)

// Summary is the view-model of the summary view: counts over a batch of todos.
// As a rule of thumb, Summary fields should be immediately usable as view parameters.
type Summary struct {
	Total     int
	Done      int
	Remaining int
}

// Summarize counts the todos of a record batch.
func Summarize(recs []records.Record) Summary {
	s := Summary{Total: len(recs)}
	for _, rec := range recs {
		if cast.ToBool(rec["done"]) {
			s.Done++
		}
	}
	s.Remaining = s.Total - s.Done
	return s
}
