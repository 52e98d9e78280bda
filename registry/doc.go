// Package registry holds the two static tables of the boundary.
//
// Releases maps every handle kind to its disposal: an explicit dispose
// routine, or implicit release by a parent object. It also names the
// deallocators for native strings (LLVMDisposeMessage and friends), since
// different routines hand out strings that must be freed differently.
//
// Routines describes each bound entry point: parameter order, the string
// transfer policy of every string slot, handle kinds and ownership, the
// shape of the result and the status convention. The call package is
// driven entirely by these rows.
//
//	r, ok := registry.Routines.Lookup("LLVMPrintModuleToString")
//	d, ok := registry.Releases.Lookup("Module") // LLVMDisposeModule
//
// Both tables are built at package init and never mutated. Validate checks
// them for consistency.
package registry
