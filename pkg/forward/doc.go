// Package forward carries REST requests between the frontend and the
// upstream daemon.
//
// Each request travels as a CBOR encoded RequestFrame over TCP and is
// answered by a ResponseFrame with the same ID. Client implements
// rest.Forwarder for the frontend; Server decodes frames on the daemon side
// and runs them through a local, non-forwarding rest.Dispatcher.
package forward
