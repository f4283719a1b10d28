package fastview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// The rate at which ele-updates are flushed to the client, so as not to overburden.
	pubResolution  = time.Millisecond * 100
	pingResolution = time.Millisecond * 200
	// Silence tolerated from the peer, i.e. a few lost pongs, before it is deemed gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// ErrPongDeadlineExceeded is returned when the peer stops answering pings.
var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// A client is the server side of one page's websocket: ele-updates go down to
// the page, events come up from it and are handed to a dispatcher.
type client[T any] struct {
	updates    <-chan []T
	dispatcher Dispatcher
	sock       *websock
	rootCtx    context.Context
}

// NewClient upgrades the request to a websocket and returns a client publishing
// batches from updates and dispatching the events it receives. A nil
// dispatcher discards events.
func NewClient[T any](
	updates <-chan []T,
	dispatcher Dispatcher,
	w http.ResponseWriter,
	r *http.Request,
) (*client[T], error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the request.
		return nil, err
	}

	return &client[T]{
		updates:    updates,
		dispatcher: dispatcher,
		sock:       newWebsock(conn),
		rootCtx:    r.Context(),
	}, nil
}

// Sync runs the client until the page goes away or the connection fails,
// then closes the socket. A normal closure by the page is not an error.
func (cli *client[T]) Sync() error {
	defer cli.sock.close()

	pong := make(chan struct{}, 1)
	cli.sock.onPong(func() {
		select {
		case pong <- struct{}{}:
		default:
		}
	})

	group, groupCtx := errgroup.WithContext(cli.rootCtx)
	group.Go(func() error {
		return cli.readEvents(groupCtx)
	})
	group.Go(func() error {
		return cli.keepAlive(groupCtx, pong)
	})
	group.Go(func() error {
		return cli.publish(groupCtx)
	})

	if err := group.Wait(); !isClosure(err) {
		return err
	}
	return nil
}

// keepAlive pings the page every pingResolution and fails once no pong has
// arrived for pongWait. Pongs are only observed while readEvents runs.
func (cli *client[T]) keepAlive(ctx context.Context, pong <-chan struct{}) error {
	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pong:
			lastPong = time.Now()
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := cli.sock.ping(ctx); err != nil {
				return err
			}
		}
	}
}

// readEvents decodes the page's messages as events and dispatches them, one
// at a time, in arrival order. Read errors end the client; malformed
// messages and failed dispatches are only logged.
func (cli *client[T]) readEvents(ctx context.Context) error {
	for {
		msg, err := cli.sock.next()
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		case len(msg) == 0 || cli.dispatcher == nil:
			continue
		}

		var ev Event
		if err = json.Unmarshal(msg, &ev); err != nil {
			log.WithError(err).Warn("discarding malformed client event")
			continue
		}
		if err = cli.dispatcher.Dispatch(ev); err != nil {
			log.WithError(err).WithField("target", ev.TargetID).Error("event dispatch failed")
		}
	}
}

// publish sends what updates delivered at most once per pubResolution.
// Everything received in between goes out together, in arrival order, so
// non-idempotent ops such as appends are never lost.
func (cli *client[T]) publish(ctx context.Context) error {
	flush := channerics.NewTicker(ctx.Done(), pubResolution)
	var pending []T

	for {
		select {
		case <-ctx.Done():
			return nil
		case items, ok := <-cli.updates:
			if !ok {
				// Input closed: send the remainder and stop publishing.
				return cli.send(ctx, pending)
			}
			pending = append(pending, items...)
		case <-flush:
			if err := cli.send(ctx, pending); err != nil {
				return err
			}
			pending = nil
		}
	}
}

func (cli *client[T]) send(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	return cli.sock.writeJSON(ctx, items)
}
