package backup

import "time"

// Outbound event names.
const (
	EventReset          = "reset"
	EventKeepAlive      = "req.keepAlive"
	EventRequestorDone  = "req.done"
	EventRequestorError = "req.error"
	EventRequestorAbort = "req.aborted"
)

// EventSink delivers events to the requester.
type EventSink interface {
	SendEvent(sessionID, event string, code Status, msg string) error
}

// sendEvent delivers an event and restarts the keep alive timer.
func (o *Orchestrator) sendEvent(s *Session, event string, code Status, msg string) bool {
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	if event == EventRequestorError {
		s.recordFailure(code, msg)
	}

	err := o.cfg.Events.SendEvent(s.id, event, code, msg)
	if err != nil {
		log.Debug("failed to send event", "session", s.id, "event", event, "error", err)
	}

	s.keepAlive = o.cfg.Scheduler.AfterFunc(o.keepAliveInterval(), func() {
		o.keepAliveFired(s)
	})
	return err == nil
}

func (o *Orchestrator) keepAliveInterval() time.Duration {
	return o.cfg.KeepAlivePeriod / 20
}

func (o *Orchestrator) keepAliveFired(s *Session) {
	if o.session != s {
		return
	}
	s.keepAlive = nil
	o.sendEvent(s, EventKeepAlive, StatusSuccess, "")
}
