// Package channel owns the persistent bidirectional connection to the
// orchestrator: the connection state machine, the fixed reconnection
// backoff ladder, inbound request dispatch, the keepalive loop, and the
// in-flight command tracker.
package channel

import (
	"encoding/json"
)

// RequestType identifies an inbound request frame.
type RequestType string

const (
	RequestCommand       RequestType = "command"
	RequestGetLogs       RequestType = "getLogs"
	RequestGetSession    RequestType = "getSession"
	RequestGetSessions   RequestType = "getSessions"
	RequestUpdateSession RequestType = "updateSession"
	RequestRemoveSession RequestType = "removeSession"
	RequestGetConfig     RequestType = "getConfig"
	RequestUpdateConfig  RequestType = "updateConfig"
	RequestGetThemes     RequestType = "getThemes"
	RequestCommandsMeta  RequestType = "getCommandsMetadata"
	RequestKeepaliveAck  RequestType = "keepaliveAck"
)

// KeepaliveSyncID is the reserved sentinel correlation id for keepalive
// frames; it never triggers command execution.
const KeepaliveSyncID = "dummy"

// Frame is an inbound message from the orchestrator.
type Frame struct {
	Type      RequestType     `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ResponseFrame is an outbound answer to a non-command request, or an
// error report carrying the same correlation id.
type ResponseFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

// KeepaliveFrame is the outbound liveness probe.
type KeepaliveFrame struct {
	Type          string `json:"type"`
	CommandSyncID string `json:"commandSyncId"`
}

// CommandMessage is the inbound command payload.
type CommandMessage struct {
	InstanceID    string            `json:"instanceId"`
	Command       string            `json:"command"`
	CommandSyncID string            `json:"commandSyncId"`
	SessionID     string            `json:"sessionId"`
	Parameters    map[string]string `json:"parameters"`
}
