package bus

import (
	"github.com/normanking/fairy/internal/agent"
)

// AgentSink mirrors agent loop events onto b, tagged with the client that
// issued the command. Stream fragments and thinking markers are not
// published. next, if non-nil, still receives every event.
func AgentSink(b *Bus, client string, next agent.EventSink) agent.EventSink {
	return func(e agent.Event) {
		if next != nil {
			next(e)
		}
		if b == nil {
			return
		}

		var ev Event
		switch e.Type {
		case agent.EventAction:
			ev = NewEvent(EventActionExecuted)
			ev.Action = e.Action
			ev.Success = e.Success
			ev.Content = e.Message
		case agent.EventDone:
			ev = NewEvent(EventRunFinished)
			ev.State = e.State.String()
			ev.Steps = e.Step
			ev.Content = e.Message
		case agent.EventError:
			ev = NewEvent(EventRunFailed)
			ev.Steps = e.Step
			ev.Error = e.Message
		default:
			return
		}
		ev.RequestID = e.RequestID
		ev.Client = client
		b.Publish(ev)
	}
}
