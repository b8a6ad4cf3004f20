package stagesched

// Size constants for padding decisions. No test checks them, and
// statusWord's padding spells out its sizes as literals rather than using
// them.
const (
	// cacheLineSize is the size of a CPU cache line.
	// 64 bytes is standard for x86-64.
	// 128 bytes is standard for Apple Silicon (M1/M2/M3) and other ARM64.
	// We use 128 to satisfy the largest common alignment requirement.
	cacheLineSize = 128

	// sizeOfAtomicUint32 is the size of an atomic.Uint32 variable.
	sizeOfAtomicUint32 = 4
)
