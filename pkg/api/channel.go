package api

// Channel defines the lifecycle of a trail sink: a platform that observes case
// progress (terminal, websocket viewers, chat notifications).
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Publish(event TrailEvent) error
}

// ChannelContext is what a channel may ask of the case manager.
type ChannelContext interface {
	// SubmitCase starts a case from a JSON or YAML case document and returns
	// its id. The case runs in the background.
	SubmitCase(doc []byte) (string, error)
	// CancelCase signals a running case to stop at its next iteration boundary.
	CancelCase(caseID string) bool
	// CaseStatus reports the last known status of a case.
	CaseStatus(caseID string) (Status, bool)
}

// EventFilter lets a channel subscribe to a subset of trail events.
type EventFilter interface {
	Accepts(event TrailEvent) bool
}
