package store

import (
	"errors"
	"testing"

	"unseen/records"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStore(t *testing.T) {
	Convey("When using a record store", t, func() {
		st, cleanup := MustGetTempStore()
		defer cleanup()

		Convey("Created records get sequential ids and are listed in id order", func() {
			a, err := st.Create("todos", records.Record{"title": "a"})
			So(err, ShouldBeNil)
			b, err := st.Create("todos", records.Record{"title": "b"})
			So(err, ShouldBeNil)
			So(a[IDField], ShouldEqual, 1.0)
			So(b[IDField], ShouldEqual, 2.0)

			recs, err := st.List("todos")
			So(err, ShouldBeNil)
			So(cmp.Diff([]records.Record{a, b}, recs), ShouldBeEmpty)
		})

		Convey("Unknown collections are empty", func() {
			recs, err := st.List("nothing")
			So(err, ShouldBeNil)
			So(recs, ShouldBeEmpty)
		})

		Convey("Records can be read, updated and deleted by id", func() {
			_, _ = st.Create("todos", records.Record{"title": "a"})

			rec, err := st.Get("todos", 1)
			So(err, ShouldBeNil)
			So(rec["title"], ShouldEqual, "a")

			rec, err = st.Update("todos", 1, records.Record{"title": "z", "done": true})
			So(err, ShouldBeNil)
			So(rec, ShouldResemble, records.Record{"id": 1.0, "title": "z", "done": true})

			So(st.Delete("todos", 1), ShouldBeNil)
			_, err = st.Get("todos", 1)
			So(err, ShouldEqual, ErrNotFound)
		})

		Convey("Absent ids are not found", func() {
			_, err := st.Update("todos", 9, records.Record{})
			So(err, ShouldEqual, ErrNotFound)
			So(st.Delete("todos", 9), ShouldEqual, ErrNotFound)
		})

		Convey("Seeding only fills empty collections", func() {
			n, err := st.Seed("todos", []records.Record{{"title": "a"}, {"title": "b"}})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)

			n, err = st.Seed("todos", []records.Record{{"title": "c"}})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)

			recs, _ := st.List("todos")
			So(recs, ShouldHaveLength, 2)
		})
	})

	Convey("When parsing ids", t, func() {
		id, err := ParseID("12")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, uint64(12))

		for _, bad := range []string{"", "0", "-1", "x"} {
			_, err := ParseID(bad)
			So(errors.Is(err, ErrInvalidID), ShouldBeTrue)
		}
	})
}
