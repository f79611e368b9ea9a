// Package rpc bridges a bus.Bus to other processes over Connect.
//
// Messages travel as google.protobuf.Struct values so the bridge needs no
// generated code: Subscribe is a server stream that attaches a bus endpoint
// for the caller, Deliver is a unary call that sends on that endpoint's
// behalf. Proxy is the client side and implements transport.RuntimeProxy,
// so a Messenger in another process behaves as if it were on the bus.
package rpc
