// Package text holds native text in its encoded form.
//
// A Buffer is an immutable byte sequence tagged with its provenance: Go
// literal data, a native allocation that must be copied before it is freed,
// a borrowed window into a native object, or a Go copy of native bytes.
//
// A View wraps a Buffer and decodes it to a Go string on first use only.
// Views compare and hash by bytes, so text that is never displayed is never
// decoded. A nil *View is the absent value and is distinct from an empty
// view.
package text
