package stream

import (
	"context"

	"github.com/google/uuid"
)

// Envelope is the cross-process form of a stream event. End marks stream
// close so remote hubs can release their subscribers. Origin identifies the
// publishing node; pub/sub echoes every message back to its publisher, so
// the forwarder drops its own.
type Envelope struct {
	RunID  uuid.UUID `json:"run_id"`
	Event  Event     `json:"event,omitempty"`
	End    bool      `json:"end,omitempty"`
	Origin string    `json:"origin,omitempty"`
}

// Bus forwards stream events between processes so a client attached to any
// API node sees the events of a run executing on another node.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	StartForwarder(ctx context.Context, onMsg func(env Envelope)) error
	Close() error
}

// Fanout is the Publisher wired into the orchestrator: every event goes to
// the local hub and, when a bus is configured, out to the other nodes.
type Fanout struct {
	Hub    *Hub
	Bus    Bus
	NodeID string
}

func (f *Fanout) Publish(runID uuid.UUID, ev Event) {
	f.Hub.Publish(runID, ev)
	if f.Bus != nil {
		_ = f.Bus.Publish(context.Background(), Envelope{RunID: runID, Event: ev, Origin: f.NodeID})
	}
}

func (f *Fanout) Close(runID uuid.UUID) {
	f.Hub.Close(runID)
	if f.Bus != nil {
		_ = f.Bus.Publish(context.Background(), Envelope{RunID: runID, End: true, Origin: f.NodeID})
	}
}

// Forward applies a remote envelope to the local hub, ignoring the node's
// own echoes.
func (f *Fanout) Forward(env Envelope) {
	if env.Origin != "" && env.Origin == f.NodeID {
		return
	}
	if env.End {
		f.Hub.Close(env.RunID)
		return
	}
	f.Hub.Publish(env.RunID, env.Event)
}
