// Package ssetransport implements the client side of the MCP HTTP+SSE
// transport (protocol revision 2024-11-05).
//
// The client opens a long-lived GET on <base>/sse. The first event the
// server sends is "endpoint", whose data is the address outbound messages
// must be POSTed to. Every following "message" event carries one JSON-RPC
// message.
//
// # Lifecycle
//
//	t, err := ssetransport.New("https://api.example/mcp")
//	if err != nil { ... }
//	ready, err := t.Connect(ctx, func(ctx context.Context, msg *jsonrpc.AnyMessage) {
//	    // runs on the stream goroutine; hand off long work
//	})
//	if err != nil { ... }
//	if err := ready.Wait(ctx); err != nil { ... } // endpoint announced
//	err = t.Send(ctx, req)
//	...
//	t.Close()
//
// Sends issued before the endpoint is known wait for it, bounded by the
// endpoint timeout. CloseGracefully makes every later event and send inert
// without severing the stream; Close additionally releases the stream.
//
// # Concurrency
//
// The endpoint is assigned once and the closing flag only moves from false
// to true, so both are read without locks. Inbound messages reach the
// handler in stream order on a single goroutine; the transport never waits
// on the handler beyond its return.
package ssetransport
