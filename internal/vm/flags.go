package vm

// Layout of the 32-bit flag word carried by every level-1 entry. The
// low 8 bits are status bits; the next 14 bits hold the shared page
// id; the top 10 bits hold the shared segment id. Id zero means "not
// shared".
const (
	flagMapped    uint32 = 0x01
	flagDirty     uint32 = 0x02
	flagReference uint32 = 0x04
	flagRead      uint32 = 0x08
	flagWrite     uint32 = 0x10
	flagExec      uint32 = 0x20
	flagSwapped   uint32 = 0x40
	flagValid     uint32 = 0x80

	flagBits = 8

	sharedPageIDBits = 14
	sharedPageIDMask = 1<<sharedPageIDBits - 1

	sharedSegIDBits = 10
	sharedSegIDMask = 1<<sharedSegIDBits - 1

	// statusMask covers the bits that describe a page's residency
	// state. For shared pages these bits live in the segment
	// descriptor, not in the per-process entries.
	statusMask = flagMapped | flagDirty | flagReference | flagSwapped
)

// SharedSegmentIDLimit is one past the largest shared segment id.
const SharedSegmentIDLimit = 1 << sharedSegIDBits

// sharedIDBits encodes a shared segment id and the page's identity
// (its address with the offset bits stripped) into flag-word position.
func sharedIDBits(segID uint32, page VirtualAddress) uint32 {
	pageID := (uint32(page) >> offsetBits) & sharedPageIDMask
	return segID<<(flagBits+sharedPageIDBits) | pageID<<flagBits
}

// sharedSegmentIDOf extracts the shared segment id, zero when the page
// is private.
func sharedSegmentIDOf(flags uint32) uint32 {
	return (flags >> (flagBits + sharedPageIDBits)) & sharedSegIDMask
}

// sharedPageIDOf extracts the shared page id.
func sharedPageIDOf(flags uint32) uint32 {
	return (flags >> flagBits) & sharedPageIDMask
}

// rightsBits maps an access type onto the permission bits.
func rightsBits(t AccessType) uint32 {
	switch t {
	case Read:
		return flagRead
	case Write:
		return flagWrite
	case ReadWrite:
		return flagRead | flagWrite
	case Execute:
		return flagExec
	}
	return 0
}

// neededBits maps an access type onto the permission bits a
// translation of that type requires.
func neededBits(t AccessType) (uint32, bool) {
	switch t {
	case Read:
		return flagRead, true
	case Write:
		return flagWrite, true
	case ReadWrite:
		return flagRead | flagWrite, true
	case Execute:
		return flagExec, true
	}
	return 0, false
}
