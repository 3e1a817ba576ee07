package bus

import (
	"encoding/json"
	"fmt"
)

// wireVersion is the version stamped on every encoded event. Clients can use
// it to reject frames from an incompatible daemon.
const wireVersion = 1

// Kind discriminates the event union. The set of kinds is closed: the
// gateway refuses to relay anything it does not recognize.
type Kind string

const (
	// KindAnalysis carries review progress and results produced by the
	// scheduler during a scan cycle.
	KindAnalysis Kind = "Analysis"

	// KindUserQuery carries raw text a client typed into the UI. It is
	// consumed by the scheduler and is not normally relayed back out.
	KindUserQuery Kind = "UserQuery"

	// KindQueryResponse carries the model's answer to a user query.
	KindQueryResponse Kind = "QueryResponse"

	// KindSystem carries operational notices such as the connection
	// greeting.
	KindSystem Kind = "System"

	// KindProjectRoot carries the absolute path of the watched working
	// tree, sent once per connection.
	KindProjectRoot Kind = "ProjectRoot"
)

// Event is a single publication on the bus. Events are immutable values and
// are copied to every subscriber; no shared state crosses the bus.
type Event struct {
	// Kind is the event discriminator.
	Kind Kind

	// Payload is the event's single string payload.
	Payload string
}

// wireEvent is the JSON shape sent to clients: a versioned, discriminated
// object with exactly one string payload.
type wireEvent struct {
	V       int    `json:"v"`
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
}

// Encode serializes the event for the client connection protocol.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(wireEvent{
		V:       wireVersion,
		Kind:    e.Kind,
		Payload: e.Payload,
	})
}

// Decode parses an encoded event, rejecting unknown versions.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}

	if w.V != wireVersion {
		return Event{}, fmt.Errorf("unsupported event version %d", w.V)
	}

	return Event{Kind: w.Kind, Payload: w.Payload}, nil
}
