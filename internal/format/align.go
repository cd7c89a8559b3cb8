package format

// Align4 returns n aligned up to the next 4-byte boundary.
// Flash writes on the targets are word sized.
//
// Example:
//
//	Align4(1) = 4
//	Align4(4) = 4
//	Align4(5) = 8
func Align4(n int) int {
	return (n + Align4Mask) & ^Align4Mask
}

// Align8 returns n aligned up to the next 8-byte boundary.
// Used for allocator blocks and the configuration header.
//
// Example:
//
//	Align8(1)  = 8
//	Align8(8)  = 8
//	Align8(9)  = 16
func Align8(n int) int {
	return (n + Align8Mask) & ^Align8Mask
}

// Align16 returns n aligned up to the next 16-byte boundary.
func Align16(n int) int {
	return (n + Align16Mask) & ^Align16Mask
}

// AlignTo returns n aligned up to a power-of-two boundary.
// An alignment of 0 or 1 returns n unchanged.
func AlignTo(n, alignment int) int {
	if alignment <= 1 {
		return n
	}
	mask := alignment - 1
	return (n + mask) & ^mask
}
