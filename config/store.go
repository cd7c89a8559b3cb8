package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/config/handle"
	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/internal/metrics"
	"github.com/joshuapare/flashkit/internal/options"
	"github.com/joshuapare/flashkit/medium"
	"github.com/joshuapare/flashkit/pkg/types"
)

var (
	// ErrVersionMismatch is returned by Read when the stored version stamp
	// differs from the one set with WithVersion.
	ErrVersionMismatch = errors.New("config: version mismatch")

	// ErrNotFound is returned by GetStruct for a missing parameter.
	ErrNotFound = errors.New("config: parameter not found")
)

// VersionName is the parameter name of the version stamp.
const VersionName = "config_version"

// Store is the in-memory parameter table of one configuration blob.
//
// A Store is safe for concurrent use; Write holds the lock for the whole
// rewrite so a GCRunner cannot release values mid-commit.
type Store struct {
	mu sync.Mutex

	m      medium.Medium
	offset int
	size   int

	params  []*param
	removed bool // a stored parameter was dropped

	alloc      *alloc.Allocator
	logger     *slog.Logger
	metrics    *metrics.Store
	names      *handle.Registry
	debug      bool
	version    uint32
	hasVersion bool

	now        func() time.Time
	lastAccess time.Time
}

// New returns an empty store on m. Call Read to load the stored table.
func New(m medium.Medium, opts ...Option) (*Store, error) {
	s := &Store{
		m:      m,
		alloc:  alloc.New(0),
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}
	if s.size == 0 {
		s.size = m.Size() - s.offset
	}
	if s.size < format.ConfigHeaderSize || s.offset+s.size > m.Size() {
		return nil, fmt.Errorf("config: region %d+%d does not fit medium of %d bytes", s.offset, s.size, m.Size())
	}
	return s, nil
}

// Offset is the medium offset of the blob.
func (s *Store) Offset() int { return s.offset }

// Size is the size of the blob region.
func (s *Store) Size() int { return s.size }

// Allocator returns the allocator backing large values.
func (s *Store) Allocator() *alloc.Allocator { return s.alloc }

// Medium returns the backing medium.
func (s *Store) Medium() medium.Medium { return s.m }

func (s *Store) touch() {
	s.lastAccess = s.now()
}

// LastAccess returns the time of the last parameter access.
func (s *Store) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Store) find(h types.Handle) *param {
	for _, p := range s.params {
		if p.handle == h {
			return p
		}
	}
	return nil
}

// obtain returns the parameter h with type typ, creating or retyping it.
func (s *Store) obtain(h types.Handle, typ types.ParamType) *param {
	p := s.find(h)
	switch {
	case p == nil:
		p = newParam(h, typ)
		p.state = StateWritable
		p.dirty = true
		_ = p.value.Resize(s.alloc, p.length, p.isString())
		s.params = append(s.params, p)
		s.logger.Debug("parameter created", "handle", h, "type", typ)
	case p.typ != typ:
		s.logger.Debug("parameter retyped", "handle", h, "from", p.typ, "to", typ)
		p.retype(s.alloc, typ)
	}
	return p
}

// load reads the stored value of p into a snapshot.
func (s *Store) load(p *param) error {
	if p.loaded() || !p.persisted() {
		return nil
	}
	if err := p.value.Resize(s.alloc, p.length, p.isString()); err != nil {
		return err
	}
	b := p.value.Bytes()
	if err := s.m.Read(b, p.offset); err != nil {
		p.value.Reset(s.alloc)
		return types.Errorf(types.ErrKindRead, err, "config: load %s", p.handle)
	}
	if p.isString() {
		b[len(b)-1] = 0
	}
	p.digest = xxhash.Sum64(b)
	p.hasDigest = true
	p.state = StateSnapshot
	return nil
}

// loadOrLog is load for read paths, which degrade to zero values.
func (s *Store) loadOrLog(p *param) bool {
	if err := s.load(p); err != nil {
		s.logger.Debug("parameter load failed", "handle", p.handle, "error", err)
		return false
	}
	return p.loaded()
}

// writable promotes p to an owned copy holding the stored bytes.
func (s *Store) writable(p *param) error {
	if p.state == StateWritable {
		p.dirty = true
		return nil
	}
	if err := s.load(p); err != nil {
		return err
	}
	if !p.loaded() {
		if err := p.value.Resize(s.alloc, p.length, p.isString()); err != nil {
			return err
		}
	}
	p.state = StateWritable
	p.dirty = true
	return nil
}

// setBytes stores data as the value of p unless it equals the current value.
func (s *Store) setBytes(p *param, data []byte) error {
	if s.loadOrLog(p) && p.length == len(data) && bytes.Equal(p.value.Bytes()[:p.length], data) {
		return nil
	}
	if err := p.value.Set(s.alloc, data, p.isString()); err != nil {
		s.logger.Warn("parameter allocation failed", "handle", p.handle, "size", len(data), "error", err)
		return err
	}
	p.length = len(data)
	p.state = StateWritable
	p.dirty = true
	return nil
}

// Read discards the table and loads it from the medium.
//
// The header must carry the magic, a non-erased CRC and a length that fits
// the region. The table and data are streamed in 64-byte chunks while the
// CRC is recomputed. Any inconsistency leaves the table empty and returns
// an error of kind types.ErrKindRead.
func (s *Store) Read() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.read()
	s.metrics.Load(err)
	s.updateGauges()
	return err
}

func (s *Store) read() error {
	s.clear()
	s.touch()

	var hb [format.ConfigHeaderSize]byte
	if err := s.m.Read(hb[:], s.offset); err != nil {
		return types.Errorf(types.ErrKindRead, err, "config: read header")
	}
	h, err := format.ParseConfigHeader(hb[:])
	if err == nil {
		err = h.Validate(s.size)
	}
	if err != nil {
		s.logger.Debug("invalid header", "offset", s.offset, "error", err)
		return types.Errorf(types.ErrKindRead, err, "config: header at %d", s.offset)
	}

	length := int(h.Length)
	tableSize := h.TableSize()
	table := make([]byte, tableSize)
	start := s.offset + format.ConfigHeaderSize
	crc := format.CRC16Init
	var chunk [format.ChunkSize]byte
	for pos := 0; pos < length; {
		n := min(len(chunk), length-pos)
		if err := s.m.Read(chunk[:n], start+pos); err != nil {
			return types.Errorf(types.ErrKindRead, err, "config: read data at %d", start+pos)
		}
		crc = format.CRC16Update(crc, chunk[:n])
		if pos < tableSize {
			copy(table[pos:], chunk[:min(n, tableSize-pos)])
		}
		pos += n
	}
	if crc != h.CRC {
		s.logger.Debug("crc mismatch", "crc", crc, "header.crc", h.CRC)
		return types.Errorf(types.ErrKindRead, format.ErrChecksum, "config: crc %04x, header %04x", crc, h.CRC)
	}

	params, err := s.parseTable(table, int(h.Params), start+tableSize, start+length)
	if err != nil {
		return types.Errorf(types.ErrKindRead, err, "config: parameter table")
	}
	s.params = params
	for _, p := range s.params {
		if p.size() <= alloc.InlineCapacity {
			s.loadOrLog(p)
		}
	}

	if s.hasVersion {
		if err := s.checkVersion(); err != nil {
			s.clear()
			return types.Errorf(types.ErrKindRead, err, "config: version stamp")
		}
	}
	s.logger.Debug("configuration read", "params", len(s.params), "length", length)
	return nil
}

func (s *Store) parseTable(table []byte, count, dataStart, end int) ([]*param, error) {
	params := make([]*param, 0, count)
	seen := make(map[types.Handle]bool, count)
	off := dataStart
	for i := range count {
		e, err := format.ParseParamEntry(table, i*format.ParamEntrySize)
		if err != nil {
			return nil, err
		}
		typ := types.ParamType(e.Type)
		h := types.Handle(e.Handle)
		switch {
		case !typ.Valid():
			return nil, fmt.Errorf("entry %d: invalid type %d", i, e.Type)
		case typ.FixedSize() > 0 && int(e.Length) != typ.FixedSize():
			return nil, fmt.Errorf("entry %d: %s with length %d", i, typ, e.Length)
		case seen[h]:
			return nil, fmt.Errorf("entry %d: duplicate handle %s", i, h)
		}
		seen[h] = true
		p := &param{
			handle:     h,
			typ:        typ,
			length:     int(e.Length),
			offset:     off,
			storedType: typ,
			storedLen:  int(e.Length),
		}
		off += p.size()
		if off > end {
			return nil, fmt.Errorf("entry %d: data ends at %d past %d: %w", i, off, end, format.ErrLength)
		}
		params = append(params, p)
	}
	if off != end {
		return nil, fmt.Errorf("data ends at %d, blob at %d: %w", off, end, format.ErrLength)
	}
	return params, nil
}

func (s *Store) checkVersion() error {
	p := s.find(handle.Of(VersionName))
	if p == nil || p.typ != types.ParamDword {
		return fmt.Errorf("%w: no stamp, want %d", ErrVersionMismatch, s.version)
	}
	if !s.loadOrLog(p) {
		return fmt.Errorf("%w: stamp unreadable", ErrVersionMismatch)
	}
	if got := format.ReadU32(p.value.Bytes(), 0); got != s.version {
		return fmt.Errorf("%w: stored %d, want %d", ErrVersionMismatch, got, s.version)
	}
	return nil
}

// Write commits the table if any parameter changed.
//
// Dirty parameters whose bytes equal the stored ones are not counted as
// changes. On success the table is reloaded from the medium; on failure the
// medium is discarded, a warning is logged and the table is left as it was.
func (s *Store) Write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.hasVersion {
		var v [4]byte
		format.PutU32(v[:], 0, s.version)
		if err := s.setBytes(s.obtain(handle.Of(VersionName), types.ParamDword), v[:]); err != nil {
			return types.Errorf(types.ErrKindWrite, err, "config: version stamp")
		}
	}

	changed := s.removed
	for _, p := range s.params {
		if !p.dirty {
			continue
		}
		if p.isString() && p.state == StateWritable {
			s.terminate(p)
		}
		if p.changed() {
			changed = true
		} else {
			p.dirty = false
		}
	}
	if !changed {
		s.logger.Debug("configuration unchanged")
		s.metrics.Commit("skipped")
		return nil
	}

	if len(s.params) == 0 {
		return s.erase()
	}

	blob, err := s.serialize()
	if err != nil {
		s.logger.Warn("configuration write failed", "error", err)
		s.metrics.Commit("error")
		return err
	}
	if err := s.commit(blob); err != nil {
		s.logger.Warn("configuration write failed", "offset", s.offset, "size", len(blob), "error", err)
		s.metrics.Commit("error")
		return types.Errorf(types.ErrKindWrite, err, "config: commit")
	}
	s.metrics.Commit("written")
	s.logger.Debug("configuration written", "params", len(s.params), "size", len(blob))

	err = s.read()
	s.updateGauges()
	if err != nil {
		return types.Errorf(types.ErrKindWrite, err, "config: reload after commit")
	}
	return nil
}

// terminate sets the length of a writable string to its first NUL.
func (s *Store) terminate(p *param) {
	b := p.value.Bytes()
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = p.value.Len()
	}
	if n != p.length || n != p.value.Len() {
		_ = p.value.Resize(s.alloc, n, true)
		p.length = n
	}
}

// serialize builds header, table and data.
func (s *Store) serialize() ([]byte, error) {
	if len(s.params) > format.ConfigMaxParams {
		return nil, types.Errorf(types.ErrKindWrite, format.ErrOverflow, "config: %d parameters", len(s.params))
	}
	tableSize := len(s.params) * format.ParamEntrySize
	length := tableSize
	for _, p := range s.params {
		if p.length > format.ParamMaxLength {
			return nil, types.Errorf(types.ErrKindWrite, format.ErrOverflow, "config: %s length %d", p.handle, p.length)
		}
		length += p.size()
	}
	if length > format.ConfigMaxLength || format.ConfigHeaderSize+length > s.size {
		return nil, types.Errorf(types.ErrKindWrite, format.ErrOverflow, "config: %d bytes exceed region of %d", length, s.size)
	}

	blob := make([]byte, format.ConfigHeaderSize+length)
	data := blob[format.ConfigHeaderSize+tableSize:]
	for i, p := range s.params {
		if err := s.load(p); err != nil {
			return nil, types.Errorf(types.ErrKindWrite, err, "config: %s", p.handle)
		}
		entry := format.ParamEntry{Handle: uint16(p.handle), Type: uint8(p.typ), Length: uint16(p.length)}
		if err := entry.Put(blob[format.ConfigHeaderSize:], i*format.ParamEntrySize); err != nil {
			return nil, types.Errorf(types.ErrKindWrite, err, "config: %s", p.handle)
		}
		if p.loaded() {
			copy(data, p.value.Bytes()[:p.size()])
		}
		if p.isString() {
			data[p.length] = 0
		}
		data = data[p.size():]
	}

	h := format.ConfigHeader{
		Magic:  format.ConfigMagic,
		CRC:    format.CRC16(blob[format.ConfigHeaderSize:]),
		Length: uint16(length),
		Params: uint16(len(s.params)),
	}
	if err := h.Put(blob); err != nil {
		return nil, types.Errorf(types.ErrKindWrite, err, "config: header")
	}
	return blob, nil
}

// erase invalidates the stored header. A table without parameters has no
// valid blob encoding.
func (s *Store) erase() error {
	var hb [format.ConfigHeaderSize]byte
	for i := range hb {
		hb[i] = format.ErasedByte
	}
	if err := s.commit(hb[:]); err != nil {
		s.logger.Warn("configuration erase failed", "offset", s.offset, "error", err)
		s.metrics.Commit("error")
		return types.Errorf(types.ErrKindWrite, err, "config: erase")
	}
	s.metrics.Commit("written")
	s.logger.Debug("configuration erased", "offset", s.offset)
	s.updateGauges()
	return nil
}

func (s *Store) commit(blob []byte) error {
	if err := s.m.Write(blob, s.offset); err != nil {
		s.m.Discard()
		return err
	}
	if err := s.m.Commit(); err != nil {
		s.m.Discard()
		return err
	}
	s.removed = false
	return nil
}

// Release frees snapshots and writable copies that equal the stored bytes.
// Stored values are read again on next access.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Store) release() {
	freed := 0
	for _, p := range s.params {
		if !p.persisted() || !p.loaded() {
			continue
		}
		if p.state == StateWritable {
			if p.isString() {
				s.terminate(p)
			}
			if p.changed() {
				continue
			}
		}
		p.value.Reset(s.alloc)
		p.state = StateEmpty
		p.dirty = false
		freed++
	}
	s.logger.Debug("configuration released", "freed", freed, "dirty", s.isDirty())
	s.updateGauges()
}

// Discard drops every unsaved change and reloads the table.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.read()
	s.updateGauges()
	return err
}

// Clear empties the in-memory table without touching the medium.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	s.updateGauges()
}

func (s *Store) clear() {
	for _, p := range s.params {
		p.value.Reset(s.alloc)
	}
	s.params = nil
	s.removed = false
}

// Remove drops h from the table. It reports whether h existed.
func (s *Store) Remove(h types.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	for i, p := range s.params {
		if p.handle == h {
			p.value.Reset(s.alloc)
			s.params = append(s.params[:i], s.params[i+1:]...)
			if p.persisted() {
				s.removed = true
			}
			return true
		}
	}
	return false
}

// IsDirty reports whether any parameter was modified since the last Read.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDirty()
}

func (s *Store) isDirty() bool {
	if s.removed {
		return true
	}
	for _, p := range s.params {
		if p.dirty {
			return true
		}
	}
	return false
}

// Len returns the number of parameters.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.params)
}

// Has reports whether h is in the table.
func (s *Store) Has(h types.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(h) != nil
}

// TypeOf returns the type of h.
func (s *Store) TypeOf(h types.Handle) (types.ParamType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.find(h); p != nil {
		return p.typ, true
	}
	return types.ParamInvalid, false
}

// Parameters describes the table in order.
func (s *Store) Parameters() []ParamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]ParamInfo, 0, len(s.params))
	for _, p := range s.params {
		infos = append(infos, ParamInfo{
			Handle: p.handle,
			Name:   s.names.Name(p.handle),
			Type:   p.typ,
			Length: p.length,
			Size:   p.size(),
			Offset: p.offset,
			Dirty:  p.dirty,
			State:  p.state,
		})
	}
	return infos
}

// CachedBytes returns the bytes held by loaded values.
func (s *Store) CachedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedBytes()
}

func (s *Store) cachedBytes() int {
	n := 0
	for _, p := range s.params {
		if p.loaded() {
			n += p.value.Size()
		}
	}
	return n
}

func (s *Store) updateGauges() {
	s.metrics.Cache(len(s.params), s.cachedBytes())
}
