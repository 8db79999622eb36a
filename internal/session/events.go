package session

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
)

// Events publishes session lifecycle events on an EventBus. Handlers
// receive a single model.SessionEvent argument.
type Events struct {
	bus EventBus.Bus
	now func() time.Time
}

// NewEvents publishes on bus, or on a private bus when bus is nil.
func NewEvents(bus EventBus.Bus) *Events {
	if bus == nil {
		bus = EventBus.New()
	}
	return &Events{bus: bus, now: time.Now}
}

func (e *Events) Bus() EventBus.Bus {
	return e.bus
}

// Subscribe registers fn for one topic, e.g. model.EventLoginSuccess.
func (e *Events) Subscribe(topic string, fn func(model.SessionEvent)) error {
	return e.bus.Subscribe(topic, fn)
}

// SubscribeAll registers fn for every session topic.
func (e *Events) SubscribeAll(fn func(model.SessionEvent)) error {
	for _, topic := range []string{model.EventLoginSuccess, model.EventLoginFailed, model.EventLogout} {
		if err := e.bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (e *Events) loginSuccess(source string, profile model.UserProfile) {
	e.publish(model.SessionEvent{Type: model.EventLoginSuccess, Source: source, Profile: profile})
}

func (e *Events) loginFailed(source string, err error) {
	e.publish(model.SessionEvent{
		Type:         model.EventLoginFailed,
		Source:       source,
		ErrorKind:    string(errs.KindOf(err)),
		ErrorMessage: errs.MessageOf(err),
	})
}

func (e *Events) logout() {
	e.publish(model.SessionEvent{Type: model.EventLogout, Source: "logout"})
}

func (e *Events) publish(evt model.SessionEvent) {
	if e == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.At = e.now()
	e.bus.Publish(evt.Type, evt)
}
