package compose

// EncodeFlag is one bit of the partition sign/encrypt policy bitmask
// (spec §4.6).
type EncodeFlag uint8

const (
	Sign EncodeFlag = 1 << iota
	Encrypt
	Hash
	ClearHash
	Decrypt
	NoSign
)

// Normalize resolves the dependency rules spec §4.6 lists for the
// encoding bitmask into a single consistent value:
//
//	SIGN       => ENCRYPT => HASH
//	CLEAR_HASH => DECRYPT => NO_SIGN
//	(anything that implies HASH also implies NO_SIGN or SIGN)
//
// so every caller-visible policy value already carries its full
// implied flag set and later code can test a single flag without
// re-deriving the chain each time.
func Normalize(flags EncodeFlag) EncodeFlag {
	if flags&Sign != 0 {
		flags |= Encrypt
	}
	if flags&Encrypt != 0 {
		flags |= Hash
	}
	if flags&ClearHash != 0 {
		flags |= Decrypt
	}
	if flags&Decrypt != 0 {
		flags |= NoSign
	}
	if flags&Hash != 0 && flags&NoSign == 0 {
		flags |= Sign | Encrypt
	}
	return flags
}
