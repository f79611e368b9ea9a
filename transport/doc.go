// Package transport moves ClientMessages between execution contexts.
//
// A Messenger owns one client's side of the wire: it resolves a target
// client id to a location through its ClientMap, sends packets over a
// RuntimeProxy (runtime channel for popup and background, tab channel for
// content, hosted Endpoint for nested API clients) and republishes inbound
// packets as a ClientMessage stream.
//
// RuntimeProxy implementations live in transport/bus (in-process host) and
// transport/rpc (Connect over HTTP). Pipe connects a nested API messenger to
// the messenger hosting it.
package transport
