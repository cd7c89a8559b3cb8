package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

const dumpBinaryLine = 32

// Dump writes the table with decoded values. With dirtyOnly set only
// modified parameters are listed.
func (s *Store) Dump(w io.Writer, dirtyOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	dataOffset := s.offset + format.ConfigHeaderSize + len(s.params)*format.ParamEntrySize
	fmt.Fprintf(&sb, "Data offset %d, base offset %d, size %d, parameters %d, cached %d\n",
		dataOffset, s.offset, s.size, len(s.params), s.cachedBytes())

	offset := dataOffset
	for _, p := range s.params {
		pos := offset
		offset += p.size()
		if dirtyOnly && !p.dirty {
			continue
		}
		fmt.Fprintf(&sb, "%04x (%s): type %s, data offset %d, size %d, value: ",
			uint16(p.handle), s.names.Name(p.handle), p.typ, pos, p.size())
		if !s.loadOrLog(p) {
			sb.WriteString("<unreadable>\n")
			continue
		}
		writeValue(&sb, p)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeValue(sb *strings.Builder, p *param) {
	b := p.value.Bytes()
	switch p.typ {
	case types.ParamString:
		if n := bytes.IndexByte(b, 0); n >= 0 {
			b = b[:n]
		}
		fmt.Fprintf(sb, "'%s'\n", b)
	case types.ParamBinary:
		fmt.Fprintf(sb, "[%d] ", p.length)
		for off := 0; off < len(b); off += dumpBinaryLine {
			if off > 0 {
				sb.WriteString("\n      ")
			}
			sb.WriteString(hex.EncodeToString(b[off:min(off+dumpBinaryLine, len(b))]))
		}
		sb.WriteByte('\n')
	case types.ParamByte:
		v := b[0]
		fmt.Fprintf(sb, "%d (%d, %02X)\n", v, int8(v), v)
	case types.ParamWord:
		v := format.ReadU16(b, 0)
		fmt.Fprintf(sb, "%d (%d, %04X)\n", v, int16(v), v)
	case types.ParamDword:
		v := format.ReadU32(b, 0)
		fmt.Fprintf(sb, "%d (%d, %08X)\n", v, int32(v), v)
	case types.ParamQword:
		v := format.ReadU64(b, 0)
		fmt.Fprintf(sb, "%d (%d, %016X)\n", v, int64(v), v)
	case types.ParamFloat:
		fmt.Fprintf(sb, "%f\n", math.Float32frombits(format.ReadU32(b, 0)))
	case types.ParamDouble:
		fmt.Fprintf(sb, "%f\n", math.Float64frombits(format.ReadU64(b, 0)))
	default:
		sb.WriteString("<invalid>\n")
	}
}
