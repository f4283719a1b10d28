package todo_views

import (
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"unseen/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// SummaryView shows how many todos there are and how many are done.
// Only the latest summary is kept, so a slow or absent client never stalls the feed.
type SummaryView struct {
	id string

	mu     sync.Mutex
	latest Summary
	signal chan struct{}

	done    <-chan struct{}
	updates chan []fastview.EleUpdate
	once    sync.Once
}

// NewSummaryView returns a summary view showing initial until summaries delivers another.
func NewSummaryView(
	id string,
	initial Summary,
	done <-chan struct{},
	summaries <-chan Summary,
) *SummaryView {
	sv := &SummaryView{
		id:      template.HTMLEscapeString(id),
		latest:  initial,
		signal:  make(chan struct{}, 1),
		done:    done,
		updates: make(chan []fastview.EleUpdate),
	}

	go func() {
		for s := range channerics.OrDone(done, summaries) {
			sv.mu.Lock()
			changed := s != sv.latest
			sv.latest = s
			sv.mu.Unlock()

			if changed {
				select {
				case sv.signal <- struct{}{}:
				default:
				}
			}
		}
	}()

	return sv
}

// Latest returns the summary currently shown.
func (sv *SummaryView) Latest() Summary {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.latest
}

func (sv *SummaryView) Updates() <-chan []fastview.EleUpdate {
	sv.once.Do(func() {
		go sv.publish()
	})
	return sv.updates
}

func (sv *SummaryView) publish() {
	defer close(sv.updates)
	for {
		select {
		case <-sv.done:
			return
		case <-sv.signal:
		}

		select {
		case sv.updates <- sv.onUpdate(sv.Latest()):
		case <-sv.done:
			return
		}
	}
}

// Returns the set of view updates needed for the view to reflect s.
func (sv *SummaryView) onUpdate(s Summary) []fastview.EleUpdate {
	return []fastview.EleUpdate{
		{EleId: sv.id + "-total", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: strconv.Itoa(s.Total)}}},
		{EleId: sv.id + "-done", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: strconv.Itoa(s.Done)}}},
		{EleId: sv.id + "-remaining", Ops: []fastview.Op{{Key: fastview.OpTextContent, Value: strconv.Itoa(s.Remaining)}}},
	}
}

func (sv *SummaryView) markup() template.HTML {
	s := sv.Latest()
	return template.HTML(fmt.Sprintf(
		`<p id="%s"><span id="%s-total">%d</span> todos, <span id="%s-done">%d</span> done, <span id="%s-remaining">%d</span> remaining</p>`,
		sv.id, sv.id, s.Total, sv.id, s.Done, sv.id, s.Remaining))
}

// Parse defines the summary's template, rendering the latest summary.
func (sv *SummaryView) Parse(
	t *template.Template,
) (name string, err error) {
	name = sv.id
	// Func names must be identifiers.
	fn := "summary_" + strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, sv.id)
	_, err = t.Funcs(template.FuncMap{fn: sv.markup}).Parse(
		`{{ define "` + name + `" }}{{ ` + fn + ` }}{{ end }}`)
	return
}
