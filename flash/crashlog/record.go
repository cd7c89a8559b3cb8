package crashlog

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

// Reset reasons reported by the ESP8266 SDK in rst_info.reason.
const (
	ReasonDefault        uint32 = 0
	ReasonWatchdog       uint32 = 1
	ReasonException      uint32 = 2
	ReasonSoftWatchdog   uint32 = 3
	ReasonSoftRestart    uint32 = 4
	ReasonDeepSleepAwake uint32 = 5
	ReasonExternal       uint32 = 6
	ReasonUserException  uint32 = 254 // panic, abort, assert
)

var reasonNames = map[uint32]string{
	ReasonDefault:        "Power On",
	ReasonWatchdog:       "Hardware Watchdog",
	ReasonException:      "Exception",
	ReasonSoftWatchdog:   "Software Watchdog",
	ReasonSoftRestart:    "Software/System restart",
	ReasonDeepSleepAwake: "Deep-Sleep Wake",
	ReasonExternal:       "External System",
	ReasonUserException:  "User Exception",
}

// ReasonName returns a readable name for a reset reason.
func ReasonName(reason uint32) string {
	if name, ok := reasonNames[reason]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", reason)
}

// Stack describes the stack region of the crashed context.
type Stack struct {
	Begin uint32
	End   uint32
	SP    uint32
	Size  uint32 // bytes stored after the header
}

func validWord(v uint32) bool {
	return v != 0 && v != ^uint32(0)
}

// Valid reports whether begin, end and size carry real values.
func (s Stack) Valid() bool {
	return validWord(s.Begin) && validWord(s.End) && validWord(s.Size)
}

// FailedAlloc is the last allocation the heap could not satisfy.
type FailedAlloc struct {
	Addr uint32
	Size uint32
}

// ResetInfo mirrors the SDK's rst_info.
type ResetInfo struct {
	Reason   uint32
	ExcCause uint32
	EPC1     uint32
	EPC2     uint32
	EPC3     uint32
	ExcVAddr uint32
	DEPC     uint32
}

// Record is the fixed header written in front of every stored stack dump.
type Record struct {
	Time          uint32
	Stack         Stack
	LastFailAlloc FailedAlloc
	Version       types.FirmwareVersion
	Reset         ResetInfo
	MD5           [format.CrashMD5Size]byte
}

// NewRecord captures a crash. The stored stack is capped at
// format.CrashMaxStackSize bytes.
func NewRecord(at time.Time, stackBegin, stackEnd, sp uint32, reset ResetInfo) Record {
	size := uint32(0)
	if stackEnd > stackBegin {
		size = min(stackEnd-stackBegin, format.CrashMaxStackSize)
	}
	return Record{
		Time:  uint32(at.Unix()),
		Stack: Stack{Begin: stackBegin, End: stackEnd, SP: sp, Size: size},
		Reset: reset,
	}
}

// HeaderSize is the encoded size of the header.
func (r Record) HeaderSize() int { return format.CrashHeaderSize }

// StackSize is the number of stack bytes stored after the header.
func (r Record) StackSize() int { return int(r.Stack.Size) }

// Size is the total stored size of the record.
func (r Record) Size() int { return format.CrashHeaderSize + int(r.Stack.Size) }

// Valid reports whether the header describes a stored record. maxStack is
// the largest stack a sector can hold.
func (r Record) Valid(maxStack int) bool {
	return int64(r.Stack.Size) <= int64(maxStack) && r.Stack.Valid() && validWord(r.Time)
}

// Timestamp returns Time as a time.Time.
func (r Record) Timestamp() time.Time {
	return time.Unix(int64(r.Time), 0).UTC()
}

// Reason returns the reset reason name.
func (r Record) Reason() string {
	return ReasonName(r.Reset.Reason)
}

// SetFailedAlloc records the last request a allocator refused, attributed
// to the caller address. It reports false and leaves the field alone when a
// has not failed yet.
func (r *Record) SetFailedAlloc(a *alloc.Allocator, caller uint32) bool {
	f, ok := a.LastFailure()
	if !ok {
		return false
	}
	r.LastFailAlloc = FailedAlloc{Addr: caller, Size: uint32(f.Size)}
	return true
}

// SetMD5 stores the firmware digest given as 32 hex characters. Anything
// else clears the digest and returns false.
func (r *Record) SetMD5(s string) bool {
	var digest [format.CrashMD5Size]byte
	if len(s) != 2*format.CrashMD5Size {
		r.MD5 = digest
		return false
	}
	if _, err := hex.Decode(digest[:], []byte(s)); err != nil {
		r.MD5 = [format.CrashMD5Size]byte{}
		return false
	}
	r.MD5 = digest
	return true
}

// MD5String returns the firmware digest as lowercase hex.
func (r Record) MD5String() string {
	return hex.EncodeToString(r.MD5[:])
}

// encode writes the header into a caller-owned buffer.
func (r Record) encode(b *[format.CrashHeaderSize]byte) {
	format.PutU32(b[:], format.CrashTimeOffset, r.Time)
	format.PutU32(b[:], format.CrashStackBeginOffset, r.Stack.Begin)
	format.PutU32(b[:], format.CrashStackEndOffset, r.Stack.End)
	format.PutU32(b[:], format.CrashStackSPOffset, r.Stack.SP)
	format.PutU32(b[:], format.CrashStackSizeOffset, r.Stack.Size)
	format.PutU32(b[:], format.CrashFailAllocAddrOffset, r.LastFailAlloc.Addr)
	format.PutU32(b[:], format.CrashFailAllocSizeOffset, r.LastFailAlloc.Size)
	format.PutU32(b[:], format.CrashVersionOffset, uint32(r.Version))
	for i, v := range r.Reset.words() {
		format.PutU32(b[:], format.CrashResetInfoOffset+4*i, v)
	}
	copy(b[format.CrashMD5Offset:], r.MD5[:])
}

func (ri ResetInfo) words() [format.CrashResetInfoFields]uint32 {
	return [...]uint32{ri.Reason, ri.ExcCause, ri.EPC1, ri.EPC2, ri.EPC3, ri.ExcVAddr, ri.DEPC}
}

// MarshalBinary encodes the header.
func (r Record) MarshalBinary() ([]byte, error) {
	var b [format.CrashHeaderSize]byte
	r.encode(&b)
	return b[:], nil
}

// UnmarshalBinary decodes a header from the start of b.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < format.CrashHeaderSize {
		return format.ErrTruncated
	}
	var w [format.CrashResetInfoFields]uint32
	for i := range w {
		w[i] = format.ReadU32(b, format.CrashResetInfoOffset+4*i)
	}
	*r = Record{
		Time: format.ReadU32(b, format.CrashTimeOffset),
		Stack: Stack{
			Begin: format.ReadU32(b, format.CrashStackBeginOffset),
			End:   format.ReadU32(b, format.CrashStackEndOffset),
			SP:    format.ReadU32(b, format.CrashStackSPOffset),
			Size:  format.ReadU32(b, format.CrashStackSizeOffset),
		},
		LastFailAlloc: FailedAlloc{
			Addr: format.ReadU32(b, format.CrashFailAllocAddrOffset),
			Size: format.ReadU32(b, format.CrashFailAllocSizeOffset),
		},
		Version: types.FirmwareVersion(format.ReadU32(b, format.CrashVersionOffset)),
		Reset: ResetInfo{
			Reason: w[0], ExcCause: w[1], EPC1: w[2], EPC2: w[3], EPC3: w[4], ExcVAddr: w[5], DEPC: w[6],
		},
	}
	copy(r.MD5[:], b[format.CrashMD5Offset:format.CrashMD5Offset+format.CrashMD5Size])
	return nil
}

// Summary formats the one-line description used by listings.
func (r Record) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "reason=%s", r.Reason())
	if r.Reset.Reason == ReasonException {
		fmt.Fprintf(&sb, " "+exceptionFmt, r.Reset.ExcCause, r.Reset.EPC1, r.Reset.EPC2, r.Reset.EPC3, r.Reset.ExcVAddr, r.Reset.DEPC)
	}
	if r.Version.Valid() {
		fmt.Fprintf(&sb, " version=%s", r.Version)
	}
	fmt.Fprintf(&sb, " md5=%s stack-size=%d", r.MD5String(), r.Stack.Size)
	return sb.String()
}

const exceptionFmt = "cause=%d epc1=0x%08x epc2=0x%08x epc3=0x%08x excvaddr=0x%08x depc=0x%08x"
