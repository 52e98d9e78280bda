package engine

// Allocator export names probed when Config does not name one. A C library
// built for wasm32 exports malloc and free; component toolchains export
// cabi_realloc and friends.
const (
	Malloc      = "malloc"
	Free        = "free"
	CabiRealloc = "cabi_realloc"
	CabiFree    = "cabi_free"

	// Legacy names from pre-standardization component model implementations
	legacyRealloc = "canonical_abi_realloc"
	legacyAlloc   = "allocate"
	simpleAlloc   = "alloc"
	legacyDealloc = "deallocate"
)

var (
	allocExports = []string{Malloc, CabiRealloc, legacyRealloc, legacyAlloc, simpleAlloc}
	freeExports  = []string{Free, CabiFree, legacyDealloc}
)

// wasm32 pointers and size_t are 4 bytes
const pointerSize = 4

const wasiModule = "wasi_snapshot_preview1"
