package fastview

import (
	"strings"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// DeferredAppend throttles the insertion of very large markup: every interval it
// emits an append of the next perTick fragments into targetID, and closes the
// returned channel once the queue is empty. Nothing is checked about the target;
// if it has disappeared the client simply finds no element to append to.
func DeferredAppend(
	done <-chan struct{},
	targetID string,
	fragments []string,
	perTick int,
	interval time.Duration,
) <-chan []EleUpdate {
	if perTick <= 0 {
		perTick = 1
	}
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		// The ticker must stop with the queue, not only with done.
		stop := make(chan struct{})
		defer close(stop)
		ticker := channerics.NewTicker(stop, interval)

		queue := fragments
		for len(queue) > 0 {
			select {
			case <-done:
				return
			case <-ticker:
			}

			n := perTick
			if n > len(queue) {
				n = len(queue)
			}
			chunk := strings.Join(queue[:n], "")
			queue = queue[n:]

			select {
			case output <- []EleUpdate{{
				EleId: targetID,
				Ops:   []Op{{Key: OpAppend, Value: chunk}},
			}}:
			case <-done:
				return
			}
		}
	}()

	return output
}
