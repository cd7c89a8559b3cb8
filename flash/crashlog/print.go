package crashlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/joshuapare/flashkit/internal/format"
)

const cutHere = "\n" + "---------------" + " CUT HERE FOR EXCEPTION DECODER " + "---------------" + "\n"

// Print writes e in the layout the ESP exception decoder expects.
func (l *Log) Print(w io.Writer, e Entry) error {
	stack, err := l.ReadStack(e)
	if err != nil {
		return err
	}
	return PrintRecord(w, e.Record, stack)
}

// PrintRecord writes rec and its stack bytes between cut markers.
func PrintRecord(w io.Writer, rec Record, stack []byte) error {
	var sb strings.Builder
	sb.WriteString(cutHere)
	fmt.Fprintf(&sb, "\nFirmware %s MD5 %s\n", rec.Version, rec.MD5String())

	switch rec.Reset.Reason {
	case ReasonUserException:
		sb.WriteString("\nUser exception (panic/abort/assert)\n")
	case ReasonException:
		fmt.Fprintf(&sb, "\nException (%d):\n", rec.Reset.ExcCause)
		fmt.Fprintf(&sb, "epc1=0x%08x epc2=0x%08x epc3=0x%08x excvaddr=0x%08x depc=0x%08x\n",
			rec.Reset.EPC1, rec.Reset.EPC2, rec.Reset.EPC3, rec.Reset.ExcVAddr, rec.Reset.DEPC)
	case ReasonSoftWatchdog:
		sb.WriteString("\nSoft WDT reset\n")
	default:
		sb.WriteString("\nGeneric Reset\n")
	}

	sb.WriteString("\n>>>stack>>>\n")
	fmt.Fprintf(&sb, "sp: %08x end: %08x offset: %04x\n", rec.Stack.SP, rec.Stack.End, rec.Stack.SP-rec.Stack.Begin)
	pos := rec.Stack.Begin
	for off := 0; off+16 <= len(stack) && pos <= rec.Stack.End; off += 16 {
		fmt.Fprintf(&sb, "%08x:  %08x %08x %08x %08x  \n", pos,
			format.ReadU32(stack, off), format.ReadU32(stack, off+4),
			format.ReadU32(stack, off+8), format.ReadU32(stack, off+12))
		pos += 16
	}
	sb.WriteString("<<<stack<<<\n")

	if rec.LastFailAlloc.Addr != 0 {
		fmt.Fprintf(&sb, "\nlast failed alloc call: %08X(%d)\n", rec.LastFailAlloc.Addr, rec.LastFailAlloc.Size)
	}
	sb.WriteString(cutHere)

	_, err := io.WriteString(w, sb.String())
	return err
}
