// Package channel derives message channel names shared by the host coordinator
// and the remote runtime agent.
//
// Both sides must compute identical names; this is the only contract between
// them besides the payload shapes of each event.
package channel

import "strconv"

// Prefix namespaces every channel used by the protocol.
const Prefix = "electron_webview_rpc_framework_"

// Event names used on the global (non per-registration) channels.
const (
	EventRegister    = "register"
	EventUnregister  = "unregister"
	EventResolve     = "resolve"
	EventReject      = "reject"
	EventMessage     = "message"
	EventSyncMessage = "sync_message"
	EventSyncResolve = "sync_message_resolve"
	EventSyncReject  = "sync_message_reject"
)

// Name returns the global channel for an event.
func Name(event string) string {
	return Prefix + event
}

// Message returns the per-registration fire-and-forget channel.
func Message(id int64) string {
	return Prefix + EventMessage + "_" + strconv.FormatInt(id, 10)
}

// SyncMessage returns the per-registration request channel.
func SyncMessage(id int64) string {
	return Prefix + EventSyncMessage + "_" + strconv.FormatInt(id, 10)
}
