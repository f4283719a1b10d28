// models implements bound models and keyed collections of them. A Model wraps
// a record reconciled against a schema and notifies its owner on mutation; a
// Collection owns an ordered, keyed set of models and forwards their notices.
package models

import (
	"errors"
	"strconv"
	"strings"
)

// Key identifies a model within its collection, and the view that renders it.
type Key string

// KeySeparator separates an element id from the key suffix appended to it.
const KeySeparator = "-"

// IndexKey returns the key for the i'th model of a collection.
func IndexKey(i int) Key {
	return Key(strconv.Itoa(i))
}

// ErrInvalidKey is returned for empty keys or keys containing the separator.
var ErrInvalidKey = errors.New("models: key is empty or contains the id separator")

func validKey(k Key) bool {
	return k != "" && !strings.Contains(string(k), KeySeparator)
}

// NoticeType is the kind of mutation a Notice reports.
type NoticeType string

const (
	Change NoticeType = "change"
	Reset  NoticeType = "reset"
	Add    NoticeType = "add"
	Remove NoticeType = "remove"
)

// Notice is emitted upward on mutation. Key is the key of the model concerned,
// and is empty for resets.
type Notice struct {
	Type NoticeType
	Key  Key
}

// Owner receives notices from the models and collections it owns.
type Owner interface {
	Notify(Notice)
}

// OwnerFunc adapts a function to an Owner.
type OwnerFunc func(Notice)

func (f OwnerFunc) Notify(n Notice) { f(n) }

func notify(o Owner, n Notice) {
	if o != nil {
		o.Notify(n)
	}
}
