// Package wire defines the messages agents exchange and the transports
// that carry them.
//
// Every message carries a correlation Identifier (agent name plus the
// numeric id that agent assigned) and its source agent. Answers, aborts
// and abort acknowledgements reuse the identifier of the request they
// refer to, so a requester can match them even after it moved on.
//
// Messages travel as JSON. Expressions inside them use the canonical
// expression encoding of package ir.
package wire
