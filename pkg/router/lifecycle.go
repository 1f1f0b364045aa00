package router

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the lifecycle state of a partition set.
type State int

const (
	Installing State = iota
	Installed
	Activating
	Active
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventInstall EventKind = iota
	EventInstallSucceeded
	EventInstallFailed
	EventActivate
	EventActivationDone
	EventMessage
	EventFetch
)

// Message types accepted out of band.
const (
	MessageCleanCache  = "CLEAN_CACHE"
	MessageSkipWaiting = "SKIP_WAITING"
)

// Message is an out-of-band control payload, e.g. {"type":"CLEAN_CACHE"}.
type Message struct {
	Type string `json:"type"`
}

// ParseMessage decodes a JSON message and rejects unknown types.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	m.Type = strings.ToUpper(strings.TrimSpace(m.Type))
	switch m.Type {
	case MessageCleanCache, MessageSkipWaiting:
		return m, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
}

// Event is a lifecycle input.
type Event struct {
	Kind    EventKind
	Message Message
}

// MessageEvent wraps a message type in an Event.
func MessageEvent(typ string) Event {
	return Event{Kind: EventMessage, Message: Message{Type: typ}}
}

// Effect is a side effect requested by Transition.
type Effect int

const (
	EffectPrecache Effect = iota
	EffectPurgeStalePartitions
	EffectSweepDynamic
	EffectIntercept
	EffectPassthrough
)

func (e Effect) String() string {
	switch e {
	case EffectPrecache:
		return "precache"
	case EffectPurgeStalePartitions:
		return "purge_stale_partitions"
	case EffectSweepDynamic:
		return "sweep_dynamic"
	case EffectIntercept:
		return "intercept"
	case EffectPassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Transition is the pure lifecycle function. Events that do not apply to
// the current state leave it unchanged with no effects.
func Transition(s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EventFetch:
		if s == Active {
			return s, []Effect{EffectIntercept}
		}
		return s, []Effect{EffectPassthrough}

	case EventMessage:
		switch ev.Message.Type {
		case MessageCleanCache:
			return s, []Effect{EffectSweepDynamic}
		case MessageSkipWaiting:
			if s == Installed {
				return Activating, []Effect{EffectPurgeStalePartitions}
			}
		}
		return s, nil
	}

	switch s {
	case Installing:
		switch ev.Kind {
		case EventInstall:
			return Installing, []Effect{EffectPrecache}
		case EventInstallSucceeded:
			return Installed, nil
		case EventInstallFailed:
			return Installing, nil
		}
	case Installed:
		if ev.Kind == EventActivate {
			return Activating, []Effect{EffectPurgeStalePartitions}
		}
	case Activating:
		switch ev.Kind {
		case EventActivationDone:
			return Active, nil
		case EventActivate:
			// Retry after a failed purge
			return Activating, []Effect{EffectPurgeStalePartitions}
		}
	}
	return s, nil
}
