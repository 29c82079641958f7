package bridge

import "context"

// Paths an event is sent on. Companion devices use them to route updates
// without decoding the payload first.
const (
	PathPairRequest  = "/pair_request"
	PathPairResponse = "/pair_response"
	PathPairAccept   = "/pair_accept"
	PathPairReject   = "/pair_reject"
	PathDisconnect   = "/disconnect"
	PathResume       = "/resume"
	PathRestart      = "/restart"
	PathUpdate       = "/update"
)

// Transport delivers serialized events to companion devices and reports
// which of them are reachable.
type Transport interface {
	// Send delivers payload to a single node.
	Send(ctx context.Context, nodeID, path, payload string) error
	// Broadcast delivers payload to every reachable node. The last payload
	// per path is retained for nodes that connect later until Forget or Reset.
	Broadcast(ctx context.Context, path, payload string) error
	// Forget drops the retained payload for path.
	Forget(ctx context.Context, path string) error
	ReachableNodes(ctx context.Context) ([]string, error)
	// Reset drops every retained payload.
	Reset(ctx context.Context) error
}
