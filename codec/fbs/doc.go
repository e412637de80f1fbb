// Package fbs holds the FlatBuffers accessors for the Request and Response
// tables described in message.fbs, plus a bounds verifier used by strict decoding.
//
// The accessors follow the layout flatc --go emits for message.fbs (same vtable
// slots and builder functions) but are maintained by hand; keep them in step
// with the schema when a field is added.
package fbs
