package todo_views

import (
	"html/template"
	"strings"
	"testing"

	"unseen/server/fastview"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSummaryView(t *testing.T) {
	Convey("When summaries change", t, func() {
		done := make(chan struct{})
		defer close(done)
		summaries := make(chan Summary)
		sv := NewSummaryView("summary", Summary{Total: 1, Remaining: 1}, done, summaries)

		summaries <- Summary{Total: 2, Done: 1, Remaining: 1}
		updates := <-sv.Updates()

		So(updates, ShouldResemble, []fastview.EleUpdate{
			{EleId: "summary-total", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: "2"}}},
			{EleId: "summary-done", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: "1"}}},
			{EleId: "summary-remaining", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: "1"}}},
		})
	})

	Convey("When embedded in a page", t, func() {
		sv := NewSummaryView("todo-summary", Summary{Total: 3, Done: 1, Remaining: 2}, nil, nil)
		page := template.New("page")
		name, err := sv.Parse(page)
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "todo-summary")

		var sb strings.Builder
		So(page.ExecuteTemplate(&sb, name, nil), ShouldBeNil)
		So(sb.String(), ShouldContainSubstring, `<span id="todo-summary-total">3</span>`)
		So(sb.String(), ShouldContainSubstring, `<span id="todo-summary-remaining">2</span>`)
	})
}
