// Package pollregistry implements the poll registry inside the governance
// context.
//
// The registry creates time-boxed polls with fixed options, records at most
// one vote per wallet per poll, keeps live tallies and closes polls on request
// or once their end time passes. All state lives in one services.Registry;
// adapters persist its snapshot and relay outbox events to the event bus.
package pollregistry
