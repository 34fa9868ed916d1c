package csound

// MessageKind discriminates the payloads streamed over a duplex event
// channel and delivered to local listeners.
type MessageKind string

const (
	// KindPlayState announces a play-state transition.
	KindPlayState MessageKind = "playState"
	// KindLog carries one engine log line.
	KindLog MessageKind = "log"
	// KindNodeCreated fires once per instance after the engine's
	// buffers are first established; Node holds the host audio node.
	KindNodeCreated MessageKind = "audioNodeCreated"
	// KindStartAck acknowledges that the realm-side render loop is
	// wired and ready; it replaces timing-based readiness guessing.
	KindStartAck MessageKind = "startAck"
)

// Message is the unit of traffic between an engine instance and its
// listeners, locally and across the realm boundary. ContextUID scopes
// the message to one logical instance; fields other than Kind and
// ContextUID are populated per kind.
type Message struct {
	Kind       MessageKind
	ContextUID string
	PlayState  PlayState
	Text       string
	Node       any
}
