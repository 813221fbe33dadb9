package core

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventKind names a lifecycle event. The value is the wire "eventType".
type EventKind string

const (
	EventReady         EventKind = "READY"
	EventStarted       EventKind = "STARTED"
	EventEnded         EventKind = "ENDED"
	EventCleaning      EventKind = "CLEANING"
	EventCharging      EventKind = "CHARGING"
	EventStartedCharge EventKind = "STARTED_CHARGE"
	EventSleeping      EventKind = "SLEEPING"
	EventStuck         EventKind = "STUCK"
	EventDustbinFull   EventKind = "DUSTBIN_FULL"
	EventStatus        EventKind = "STATUS"
	EventShutdown      EventKind = "SHUTDOWN"
)

// EventKinds lists every kind in declaration order.
var EventKinds = []EventKind{
	EventReady, EventStarted, EventEnded, EventCleaning, EventCharging, EventStartedCharge,
	EventSleeping, EventStuck, EventDustbinFull, EventStatus, EventShutdown,
}

// Fault reports whether the kind has a dedicated notification topic.
func (k EventKind) Fault() bool {
	return k == EventStuck || k == EventDustbinFull
}

// LifecycleEvent is one observable transition of a robot.
type LifecycleEvent struct {
	DeviceID  int       `json:"id"`
	Detail    string    `json:"message"`
	Kind      EventKind `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode returns the JSON wire form of the event.
func (e LifecycleEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses the JSON wire form of an event.
func DecodeEvent(raw []byte) (LifecycleEvent, error) {
	var e LifecycleEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return LifecycleEvent{}, &DecodeError{Raw: string(raw), Err: err}
	}
	return e, nil
}

// FormatPower renders a power level the way it travels in event details.
func FormatPower(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Power parses the detail of a power-carrying event.
func (e LifecycleEvent) Power() (float64, bool) {
	p, err := strconv.ParseFloat(e.Detail, 64)
	return p, err == nil
}
