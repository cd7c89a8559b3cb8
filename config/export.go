package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/flashkit/config/handle"
	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("config: unknown format %q", s)
	}
}

// listSeparator splits string parameters that hold a list of values.
const listSeparator = 0xff

// Document is the exported form of a table.
type Document struct {
	Parameters []Entry `json:"parameters" yaml:"parameters"`
}

// Entry is one exported parameter. Value is a string, a list of strings,
// a hex string for BINARY, an unsigned integer or a float.
type Entry struct {
	Handle string `json:"handle" yaml:"handle"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Type   string `json:"type" yaml:"type"`
	Value  any    `json:"value" yaml:"value"`
}

// Export writes every parameter in the given format.
func (s *Store) Export(w io.Writer, f Format) error {
	doc, err := s.document()
	if err != nil {
		return err
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("config: unknown format %q", f)
	}
}

func (s *Store) document() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{Parameters: make([]Entry, 0, len(s.params))}
	for _, p := range s.params {
		if err := s.load(p); err != nil {
			return Document{}, err
		}
		e := Entry{Handle: fmt.Sprintf("%04x", uint16(p.handle)), Type: p.typ.String()}
		if name := s.names.Name(p.handle); name != handle.Unknown {
			e.Name = name
		}
		e.Value = exportValue(p)
		doc.Parameters = append(doc.Parameters, e)
	}
	return doc, nil
}

func exportValue(p *param) any {
	b := p.value.Bytes()
	switch p.typ {
	case types.ParamString:
		b = b[:p.length]
		if n := bytes.IndexByte(b, 0); n >= 0 {
			b = b[:n]
		}
		if bytes.IndexByte(b, listSeparator) >= 0 {
			parts := bytes.Split(bytes.TrimSuffix(b, []byte{listSeparator}), []byte{listSeparator})
			list := make([]string, len(parts))
			for i, part := range parts {
				list[i] = decodeText(part)
			}
			return list
		}
		return decodeText(b)
	case types.ParamBinary:
		return hex.EncodeToString(b)
	case types.ParamByte:
		return uint64(b[0])
	case types.ParamWord:
		return uint64(format.ReadU16(b, 0))
	case types.ParamDword:
		return uint64(format.ReadU32(b, 0))
	case types.ParamQword:
		return format.ReadU64(b, 0)
	case types.ParamFloat:
		return float64(math.Float32frombits(format.ReadU32(b, 0)))
	case types.ParamDouble:
		return math.Float64frombits(format.ReadU64(b, 0))
	default:
		return nil
	}
}

// decodeText returns b as a string, reading invalid UTF-8 as Latin-1.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// Import reads a document and sets its parameters. When allowed is not
// empty, only those handles are imported. It returns the number of
// parameters set; the table is dirty and must be written by the caller.
func (s *Store) Import(r io.Reader, f Format, allowed []types.Handle) (int, error) {
	var doc Document
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return 0, fmt.Errorf("config: decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return 0, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return 0, fmt.Errorf("config: unknown format %q", f)
	}

	n := 0
	for i, e := range doc.Parameters {
		h, err := parseHandle(e.Handle)
		if err != nil {
			return n, fmt.Errorf("config: entry %d: %w", i, err)
		}
		if len(allowed) > 0 && !slices.Contains(allowed, h) {
			continue
		}
		typ, ok := types.ParseParamType(e.Type)
		if !ok {
			return n, fmt.Errorf("config: entry %d: unknown type %q", i, e.Type)
		}
		data, err := importValue(typ, e.Value)
		if err != nil {
			return n, fmt.Errorf("config: entry %d (%s): %w", i, e.Handle, err)
		}
		s.mu.Lock()
		s.touch()
		err = s.setBytes(s.obtain(h, typ), data)
		s.mu.Unlock()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func parseHandle(s string) (types.Handle, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", s)
	}
	return types.Handle(v), nil
}

func importValue(typ types.ParamType, v any) ([]byte, error) {
	switch typ {
	case types.ParamString:
		return importString(v)
	case types.ParamBinary:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("binary value is %T", v)
		}
		return hex.DecodeString(str)
	case types.ParamFloat, types.ParamDouble:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		b := make([]byte, typ.FixedSize())
		if typ == types.ParamFloat {
			format.PutU32(b, 0, math.Float32bits(float32(f)))
		} else {
			format.PutU64(b, 0, math.Float64bits(f))
		}
		return b, nil
	case types.ParamByte, types.ParamWord, types.ParamDword, types.ParamQword:
		u, err := toUint(v)
		if err != nil {
			return nil, err
		}
		size := typ.FixedSize()
		if size < 8 && u>>(size*8) != 0 {
			return nil, fmt.Errorf("%d overflows %s", u, typ)
		}
		b := make([]byte, 8)
		format.PutU64(b, 0, u)
		return b[:size], nil
	default:
		return nil, fmt.Errorf("unsupported type %s", typ)
	}
}

func importString(v any) ([]byte, error) {
	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case []any:
		var b []byte
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item is %T", item)
			}
			b = append(b, str...)
			b = append(b, listSeparator)
		}
		return b, nil
	case nil:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("string value is %T", v)
	}
}

func toUint(v any) (uint64, error) {
	switch v := v.(type) {
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("not an unsigned integer: %v", v)
		}
		return uint64(v), nil
	case string:
		return strconv.ParseUint(v, 0, 64)
	default:
		return 0, fmt.Errorf("integer value is %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case json.Number:
		return v.Float64()
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("float value is %T", v)
	}
}

// Value returns h in its exported form.
func (s *Store) Value(h types.Handle) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	p := s.find(h)
	if p == nil || !s.loadOrLog(p) {
		return Entry{}, false
	}
	e := Entry{Handle: fmt.Sprintf("%04x", uint16(h)), Type: p.typ.String(), Value: exportValue(p)}
	if name := s.names.Name(h); name != handle.Unknown {
		e.Name = name
	}
	return e, true
}

// SetValue parses text as typ and stores it as h. Integers accept a 0x
// prefix and negative values, which are stored as two's complement.
func (s *Store) SetValue(h types.Handle, typ types.ParamType, text string) error {
	var v any = text
	switch typ {
	case types.ParamByte, types.ParamWord, types.ParamDword, types.ParamQword:
		if strings.HasPrefix(text, "-") {
			i, err := strconv.ParseInt(text, 0, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", h, err)
			}
			bits := typ.FixedSize() * 8
			if bits < 64 && i < -1<<(bits-1) {
				return fmt.Errorf("config: %s: %d overflows %s", h, i, typ)
			}
			v = uint64(i) & (^uint64(0) >> (64 - bits))
		}
	case types.ParamString, types.ParamBinary, types.ParamFloat, types.ParamDouble:
	default:
		return fmt.Errorf("config: %s: unsupported type %s", h, typ)
	}
	data, err := importValue(typ, v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", h, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.setBytes(s.obtain(h, typ), data)
}
