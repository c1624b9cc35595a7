package protocol

// Cross-process signal names. Transport is external to the core: signals are
// delivered as opaque named events with small JSON payloads.
const (
	// EventConfigChanged is emitted when the config file on disk changes.
	EventConfigChanged = "config.changed"

	// EventSchedulersRefresh asks the outbound scheduler to reload queue
	// definitions and re-arm its tickers.
	EventSchedulersRefresh = "schedulers.refresh"

	// EventTriggerFired carries an externally fired trigger (payload:
	// trigger id, queue id).
	EventTriggerFired = "trigger.fired"

	// EventSessionAbort asks the agent dispatch layer to abort any in-flight
	// run for a session key (payload: session_key).
	EventSessionAbort = "session.abort"

	// EventMessageReady carries a merged inbound message to the agent
	// dispatch layer (payload: bus.InboundMessage).
	EventMessageReady = "message.ready"

	// EventMessageSend asks a channel connector to deliver an outbound
	// message (payload: bus.OutboundMessage).
	EventMessageSend = "message.send"

	// EventShutdown is broadcast when the gateway is stopping.
	EventShutdown = "shutdown"
)

// SessionAbortPayload is the payload for EventSessionAbort.
type SessionAbortPayload struct {
	SessionKey string `json:"session_key"`
}

// TriggerFiredPayload is the payload for EventTriggerFired.
type TriggerFiredPayload struct {
	TriggerID string `json:"trigger_id"`
	QueueID   string `json:"queue_id,omitempty"`
}
