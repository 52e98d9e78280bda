// Package marshal implements the four string transfer contracts of the
// native ABI.
//
// OutboundTransient text is copied into native memory by a Scope, which
// frees every allocation when the call is over. Inbound text comes back as
// a borrowed window (Borrowed), a native allocation that is copied and then
// released through a routine-specific deallocator (Owned), or an undecoded
// byte window (Raw). A null pointer is always the absent value; a null
// pointer with a non-zero length is a length probe and is answered by Probe,
// never by the value readers.
package marshal
