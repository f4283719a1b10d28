package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	. "github.com/smartystreets/goconvey/convey"
)

func writeConfig(dir, text string) string {
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		panic(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("When loading configuration", t, func() {
		dir := t.TempDir()

		Convey("Defaults apply without a file", func() {
			cfg, err := Load("", nil)
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":8080")
			So(cfg.Store.Collection, ShouldEqual, "todos")
			So(cfg.Deferred.Threshold, ShouldEqual, 200)
		})

		Convey("File values override defaults", func() {
			path := writeConfig(dir, `
kind: unseen
def:
  addr: ":9090"
  store:
    path: /tmp/x.db
    collection: chores
  deferred:
    threshold: 10
    perTick: 2
    interval: 5ms
`)
			cfg, err := Load(path, nil)
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":9090")
			So(cfg.Store.Path, ShouldEqual, "/tmp/x.db")
			So(cfg.Store.Collection, ShouldEqual, "chores")
			So(cfg.LogLevel, ShouldEqual, "info")

			d, err := cfg.Deferred.TickInterval()
			So(err, ShouldBeNil)
			So(d.Milliseconds(), ShouldEqual, 5)
		})

		Convey("Changed flags override the file", func() {
			path := writeConfig(dir, "kind: unseen\ndef:\n  addr: \":9090\"\n")
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			Flags(fs)
			So(fs.Parse([]string{"--addr", ":7070"}), ShouldBeNil)

			cfg, err := Load(path, fs)
			So(err, ShouldBeNil)
			So(cfg.Addr, ShouldEqual, ":7070")
			So(cfg.Store.Path, ShouldEqual, "unseen.db")
		})

		Convey("Another kind is rejected", func() {
			path := writeConfig(dir, "kind: tabular\ndef: {}\n")
			_, err := Load(path, nil)
			So(errors.Is(err, ErrWrongKind), ShouldBeTrue)
		})

		Convey("Malformed durations are rejected", func() {
			path := writeConfig(dir, "kind: unseen\ndef:\n  source:\n    refresh: often\n")
			_, err := Load(path, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("A missing file is an error", func() {
			_, err := Load(filepath.Join(dir, "absent.yaml"), nil)
			So(err, ShouldNotBeNil)
		})
	})
}
