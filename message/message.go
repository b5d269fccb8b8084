// Package message defines the messages exchanged by two peers of an RPC connection.
//
// A Call travels as the body of a request, a Return as the body of its response.
// Both are plain data; the codec package turns them into bytes and back, keeping
// the concrete types of Args elements and of Return.Value intact.
package message

// Call asks the remote peer to invoke one method on its call target.
type Call struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Return is the outcome of a Call.
//
//   - On success: IsSuccessful is true, Value holds the method result (nil for methods without one)
//     and Error is empty.
//   - On failure: IsSuccessful is false, Value is nil and Error describes what went wrong.
type Return struct {
	Value        any    `json:"value"`
	IsSuccessful bool   `json:"isSuccessful"`
	Error        string `json:"error"`

	// Transport is set locally when no remote Return could be obtained at all
	// (timeout, disconnect, send failure). It never goes over the wire.
	Transport string `json:"-"`
}

// Success builds a successful Return carrying v.
func Success(v any) *Return {
	return &Return{Value: v, IsSuccessful: true}
}

// Faulted builds a failed Return with the given error text.
func Faulted(err string) *Return {
	return &Return{Error: err}
}

// ConnectRequest opens the handshake of a stream connection.
type ConnectRequest struct{}

// ConnectResponse completes the handshake and assigns the connection id.
type ConnectResponse struct {
	ConnectionID string `json:"connectionId"`
}

// Close is sent by a peer that is about to close the connection.
type Close struct{}
