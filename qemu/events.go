package qemu

import (
	"context"

	"github.com/digitalocean/go-qemu/qmp"
)

// QMP run state events.
const (
	EventStop   = "STOP"
	EventResume = "RESUME"
)

// Events calls callback for every event of the monitor until ctx is done
// or the stream closes.
func Events(ctx context.Context, monitor qmp.Monitor, callback func(qmp.Event)) {
	stream, err := monitor.Events(ctx)
	if err != nil {
		log.Debug("cannot subscribe to QMP events", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug("Returning from event loop...")
			return
		case e, ok := <-stream:
			if !ok {
				log.Debug("Event loop stream is closed. Exiting...")
				return
			}
			callback(e)
		}
	}
}

// handleEvent tracks the guest's run state from STOP and RESUME events.
func (p *Provider) handleEvent(e qmp.Event) {
	switch e.Event {
	case EventStop:
		log.Debug("guest paused")
		p.paused.Store(true)
	case EventResume:
		log.Debug("guest resumed")
		p.paused.Store(false)
	default:
		log.Debug("qmp event", "event", e.Event, "data", e.Data)
	}
}
