package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/flashkit/config/handle"
	"github.com/joshuapare/flashkit/flash"
	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/internal/metrics"
	"github.com/joshuapare/flashkit/medium"
	"github.com/joshuapare/flashkit/medium/eeprom"
	"github.com/joshuapare/flashkit/medium/nvs"
	"github.com/joshuapare/flashkit/pkg/types"
)

const (
	hPort  = types.Handle(0x1234)
	hName  = types.Handle(0x0101)
	hBlob  = types.Handle(0x0202)
	hRatio = types.Handle(0x0303)
	hFlag  = types.Handle(0x0404)
)

func newStore(t *testing.T, m medium.Medium, opts ...Option) *Store {
	t.Helper()
	s, err := New(m, opts...)
	require.NoError(t, err)
	return s
}

// reboot opens a fresh store on m and reads it.
func reboot(t *testing.T, m medium.Medium, opts ...Option) *Store {
	t.Helper()
	s := newStore(t, m, opts...)
	require.NoError(t, s.Read())
	return s
}

func TestNew_Region(t *testing.T) {
	m := medium.NewMemory(256)

	s := newStore(t, m)
	assert.Equal(t, 0, s.Offset())
	assert.Equal(t, 256, s.Size())

	s = newStore(t, m, WithOffset(64))
	assert.Equal(t, 192, s.Size())

	_, err := New(m, WithOffset(200), WithSize(100))
	require.Error(t, err)
	_, err = New(m, WithOffset(250))
	require.Error(t, err)
	_, err = New(m, WithOffset(-1))
	require.Error(t, err)
}

func TestSetWriteRead_Word(t *testing.T) {
	m := medium.NewMemory(256)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.True(t, s.IsDirty())
	require.NoError(t, s.Write())
	require.False(t, s.IsDirty())

	s = reboot(t, m)
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))
	assert.True(t, Exists[uint16](s, hPort))
	assert.False(t, Exists[uint32](s, hPort))
}

func TestWrite_Layout(t *testing.T) {
	m := medium.NewMemory(64)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())

	b := m.Committed()
	h, err := format.ParseConfigHeader(b)
	require.NoError(t, err)
	assert.Equal(t, format.ConfigMagic, h.Magic)
	assert.Equal(t, uint16(6), h.Length)
	assert.Equal(t, uint16(1), h.Params)
	assert.Equal(t, []byte{0x06, 0x10, 0x00, 0x00}, b[6:10])
	assert.Equal(t, make([]byte, 6), b[10:16])
	assert.Equal(t, []byte{0x34, 0x12, 0x24, 0x00, 0xf4, 0x01}, b[16:22])
	assert.Equal(t, format.CRC16(b[16:22]), h.CRC)
	assert.Equal(t, byte(0xff), b[22])
}

func TestWrite_SkipsUnchanged(t *testing.T) {
	m := medium.NewMemory(256)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.SetString(hName, "kitchen"))
	require.NoError(t, s.Write())
	require.Equal(t, 1, m.Commits())

	// same value
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.False(t, s.IsDirty())
	require.NoError(t, s.Write())
	assert.Equal(t, 1, m.Commits())

	// changed and changed back
	p, err := GetWriteable[uint16](s, hPort)
	require.NoError(t, err)
	*p = 501
	*p = 500
	require.True(t, s.IsDirty())
	require.NoError(t, s.Write())
	assert.Equal(t, 1, m.Commits())
	assert.False(t, s.IsDirty())

	require.NoError(t, s.SetString(hName, "hall"))
	require.NoError(t, s.Write())
	assert.Equal(t, 2, m.Commits())
}

func TestWrite_FailedCommitKeepsTable(t *testing.T) {
	m := medium.NewMemory(256)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())

	require.NoError(t, Set[uint16](s, hPort, 600))
	m.FailNextCommit()
	err := s.Write()
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrKindWrite))
	assert.ErrorIs(t, err, medium.ErrCommit)

	assert.Equal(t, uint16(600), Get[uint16](s, hPort))
	assert.True(t, s.IsDirty())
	assert.Equal(t, uint16(500), Get[uint16](reboot(t, m), hPort))

	require.NoError(t, s.Write())
	assert.Equal(t, uint16(600), Get[uint16](reboot(t, m), hPort))
}

func TestWriteRead_CRCAllOnes(t *testing.T) {
	m := medium.NewMemory(128)
	s := newStore(t, m)
	require.NoError(t, Set[uint32](s, hPort, 29353))
	require.NoError(t, s.Write())

	h, err := format.ParseConfigHeader(m.Committed())
	require.NoError(t, err)
	require.Equal(t, uint16(0xffff), h.CRC)

	assert.Equal(t, uint32(29353), Get[uint32](s, hPort))
	r := reboot(t, m)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, uint32(29353), Get[uint32](r, hPort))
}

func TestRead_Errors(t *testing.T) {
	t.Run("erased", func(t *testing.T) {
		s := newStore(t, medium.NewMemory(128))
		err := s.Read()
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrRead)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("crc", func(t *testing.T) {
		m := medium.NewMemory(128)
		s := newStore(t, m)
		require.NoError(t, Set[uint16](s, hPort, 500))
		require.NoError(t, s.Write())

		b := m.Committed()
		b[20] ^= 0x01
		s = newStore(t, medium.NewMemoryFrom(b))
		err := s.Read()
		require.Error(t, err)
		assert.ErrorIs(t, err, format.ErrChecksum)
		assert.True(t, types.IsKind(err, types.ErrKindRead))
		assert.Equal(t, 0, s.Len())
		assert.Equal(t, uint16(0), Get[uint16](s, hPort))
	})

	t.Run("length exceeds region", func(t *testing.T) {
		m := medium.NewMemory(128)
		s := newStore(t, m)
		require.NoError(t, s.SetBinary(hBlob, make([]byte, 60)))
		require.NoError(t, s.Write())

		s = newStore(t, m, WithSize(48))
		require.ErrorIs(t, s.Read(), format.ErrLength)
	})

	t.Run("duplicate handle", func(t *testing.T) {
		b := bytes.Repeat([]byte{0xff}, 64)
		body := []byte{0x04, 0x04, 0x13, 0x00, 0x04, 0x04, 0x13, 0x00, 0x01, 0x02}
		h := format.ConfigHeader{Magic: format.ConfigMagic, CRC: format.CRC16(body), Length: uint16(len(body)), Params: 2}
		require.NoError(t, h.Put(b))
		copy(b[format.ConfigHeaderSize:], body)

		s := newStore(t, medium.NewMemoryFrom(b))
		err := s.Read()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
		assert.Equal(t, 0, s.Len())
	})

	t.Run("fixed size mismatch", func(t *testing.T) {
		b := bytes.Repeat([]byte{0xff}, 64)
		// WORD with length 3
		body := []byte{0x04, 0x04, 0x34, 0x00, 0x01, 0x02, 0x03}
		h := format.ConfigHeader{Magic: format.ConfigMagic, CRC: format.CRC16(body), Length: uint16(len(body)), Params: 1}
		require.NoError(t, h.Put(b))
		copy(b[format.ConfigHeaderSize:], body)

		s := newStore(t, medium.NewMemoryFrom(b))
		require.Error(t, s.Read())
		assert.Equal(t, 0, s.Len())
	})
}

func TestVersionStamp(t *testing.T) {
	m := medium.NewMemory(256)
	s := newStore(t, m, WithVersion(7))
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())

	s = reboot(t, m, WithVersion(7))
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))
	assert.Equal(t, uint32(7), Get[uint32](s, handle.Of(VersionName)))

	s = newStore(t, m, WithVersion(8))
	err := s.Read()
	require.ErrorIs(t, err, ErrVersionMismatch)
	assert.True(t, types.IsKind(err, types.ErrKindRead))
	assert.Equal(t, 0, s.Len())

	// unversioned readers ignore the stamp
	s = reboot(t, m)
	assert.Equal(t, 2, s.Len())
}

func TestStrings(t *testing.T) {
	m := medium.NewMemory(512)
	s := newStore(t, m)

	require.NoError(t, s.SetString(hName, "kitchen\x00light"))
	assert.Equal(t, "kitchen", s.GetString(hName))

	buf, err := s.GetWriteableString(types.Handle(0x0505), 32)
	require.NoError(t, err)
	require.Len(t, buf, 32)
	copy(buf, "mqtt.local\x00")
	require.NoError(t, s.Write())

	s = reboot(t, m)
	assert.Equal(t, "kitchen", s.GetString(hName))
	assert.Equal(t, "mqtt.local", s.GetString(types.Handle(0x0505)))
	for _, p := range s.Parameters() {
		if p.Handle == 0x0505 {
			assert.Equal(t, 10, p.Length)
			assert.Equal(t, 11, p.Size)
		}
	}

	assert.Equal(t, "", s.GetString(hPort))
}

func TestBinaryAndStruct(t *testing.T) {
	m := medium.NewMemory(512)
	s := newStore(t, m)
	data := bytes.Repeat([]byte{0xa5}, 40)
	require.NoError(t, s.SetBinary(hBlob, data))

	require.NoError(t, s.SetStruct(hRatio+1, stamp{Hour: 6, Minute: 30}))
	require.NoError(t, s.Write())

	s = reboot(t, m)
	// only values up to the inline capacity are loaded eagerly
	assert.Equal(t, 3, s.CachedBytes())
	assert.Equal(t, data, s.GetBinary(hBlob))
	assert.Equal(t, 43, s.CachedBytes())

	var st stamp
	require.NoError(t, s.GetStruct(hRatio+1, &st))
	assert.Equal(t, stamp{Hour: 6, Minute: 30}, st)
	require.ErrorIs(t, s.GetStruct(hRatio+9, &st), ErrNotFound)

	b, err := s.GetWriteableBinary(hBlob, 4)
	require.NoError(t, err)
	copy(b, "abcd")
	require.NoError(t, s.Write())
	assert.Equal(t, []byte("abcd"), reboot(t, m).GetBinary(hBlob))
}

type stamp struct {
	Hour, Minute uint8
}

func (s stamp) MarshalBinary() ([]byte, error) { return []byte{s.Hour, s.Minute, 0}, nil }

func (s *stamp) UnmarshalBinary(b []byte) error {
	s.Hour, s.Minute = b[0], b[1]
	return nil
}

func TestWriteable_InvalidLength(t *testing.T) {
	s := newStore(t, medium.NewMemory(128))
	for _, n := range []int{-1, format.ParamMaxLength + 1} {
		_, err := s.GetWriteableString(hName, n)
		require.ErrorIs(t, err, format.ErrOverflow)
		assert.True(t, types.IsKind(err, types.ErrKindWrite))

		_, err = s.GetWriteableBinary(hBlob, n)
		require.ErrorIs(t, err, format.ErrOverflow)
	}
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.IsDirty())
}

func TestScalarsAndBool(t *testing.T) {
	m := medium.NewMemory(512)
	s := newStore(t, m)
	require.NoError(t, Set[float32](s, hRatio, 1.5))
	require.NoError(t, Set[float64](s, hRatio+1, -2.25))
	require.NoError(t, Set[int64](s, hRatio+2, -5))
	require.NoError(t, Set[uint32](s, hRatio+3, 0xdeadbeef))
	require.NoError(t, s.SetBool(hFlag, true))
	require.NoError(t, s.Write())

	s = reboot(t, m)
	assert.Equal(t, float32(1.5), Get[float32](s, hRatio))
	assert.Equal(t, -2.25, Get[float64](s, hRatio+1))
	assert.Equal(t, int64(-5), Get[int64](s, hRatio+2))
	assert.Equal(t, uint32(0xdeadbeef), Get[uint32](s, hRatio+3))
	assert.True(t, s.GetBool(hFlag))

	typ, ok := s.TypeOf(hRatio)
	assert.True(t, ok)
	assert.Equal(t, types.ParamFloat, typ)
}

func TestTypeMismatch(t *testing.T) {
	s := newStore(t, medium.NewMemory(128))
	require.NoError(t, Set[uint16](s, hPort, 500))
	assert.Equal(t, uint32(0), Get[uint32](s, hPort))

	d := newStore(t, medium.NewMemory(128), WithDebug(true))
	require.NoError(t, Set[uint16](d, hPort, 500))
	assert.Panics(t, func() { Get[uint32](d, hPort) })
}

func TestRetype(t *testing.T) {
	m := medium.NewMemory(128)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())

	require.NoError(t, Set[uint32](s, hPort, 70000))
	require.NoError(t, s.Write())

	s = reboot(t, m)
	typ, _ := s.TypeOf(hPort)
	assert.Equal(t, types.ParamDword, typ)
	assert.Equal(t, uint32(70000), Get[uint32](s, hPort))
}

func TestRemove(t *testing.T) {
	m := medium.NewMemory(128)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.SetBool(hFlag, true))
	require.NoError(t, s.Write())

	assert.True(t, s.Remove(hFlag))
	assert.False(t, s.Remove(hFlag))
	assert.True(t, s.IsDirty())
	require.NoError(t, s.Write())

	s = reboot(t, m)
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.Has(hFlag))

	// removing the last parameter invalidates the blob
	assert.True(t, s.Remove(hPort))
	require.NoError(t, s.Write())
	require.Error(t, newStore(t, m).Read())
}

func TestWrite_Overflow(t *testing.T) {
	m := medium.NewMemory(128)
	s := newStore(t, m, WithSize(64))
	require.NoError(t, s.SetBinary(hBlob, make([]byte, 100)))
	err := s.Write()
	require.ErrorIs(t, err, format.ErrOverflow)
	assert.Equal(t, 0, m.Commits())
	assert.True(t, s.IsDirty())
}

func TestDiscard(t *testing.T) {
	m := medium.NewMemory(128)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())

	require.NoError(t, Set[uint16](s, hPort, 9))
	require.NoError(t, s.SetBool(hFlag, true))
	require.NoError(t, s.Discard())
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))
	assert.False(t, s.Has(hFlag))

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestRelease(t *testing.T) {
	m := medium.NewMemory(256)
	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.SetBinary(hBlob, make([]byte, 32)))
	require.NoError(t, s.Write())

	s = reboot(t, m)
	_ = s.GetBinary(hBlob)
	require.NoError(t, s.SetBool(hFlag, true))
	require.NotZero(t, s.CachedBytes())

	s.Release()
	// the unsaved flag survives
	assert.Equal(t, 1, s.CachedBytes())
	assert.True(t, s.GetBool(hFlag))
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))

	for _, p := range s.Parameters() {
		if p.Handle == hBlob {
			assert.Equal(t, StateEmpty, p.State)
		}
	}
}

func TestGCRunner(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := medium.NewMemory(128)
	s := newStore(t, m, WithClock(func() time.Time { return now }))
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())
	require.NoError(t, s.Read())

	r, err := NewGCRunner(s, time.Hour, time.Minute)
	require.NoError(t, err)
	assert.False(t, r.Collect())

	now = now.Add(2 * time.Minute)
	assert.True(t, r.Collect())
	assert.Equal(t, 0, s.CachedBytes())
	assert.False(t, r.Collect())
	assert.Equal(t, now, s.LastAccess().Add(2*time.Minute))

	r.Start()
	r.Stop()
	r.Stop()

	_, err = NewGCRunner(s, 0, time.Minute)
	require.Error(t, err)
	_, err = NewGCRunner(nil, time.Second, time.Minute)
	require.Error(t, err)
}

func TestGCRunner_StopWithoutStart(t *testing.T) {
	r, err := NewGCRunner(newStore(t, medium.NewMemory(128)), time.Millisecond, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.Stop()
		r.Start()
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestDump(t *testing.T) {
	reg := handle.NewRegistry()
	hs := reg.MustRegister("mqtt_port", "device_name")
	s := newStore(t, medium.NewMemory(256), WithRegistry(reg))
	require.NoError(t, Set[uint16](s, hs[0], 500))
	require.NoError(t, s.SetString(hs[1], "kitchen"))
	require.NoError(t, s.SetBinary(hBlob, []byte{1, 2, 0xab}))
	require.NoError(t, s.Write())
	require.NoError(t, Set[uint8](s, hFlag, 200))

	var sb strings.Builder
	require.NoError(t, s.Dump(&sb, false))
	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "Configuration:\n"))
	assert.Contains(t, out, "(mqtt_port): type WORD")
	assert.Contains(t, out, "500 (500, 01F4)\n")
	assert.Contains(t, out, "'kitchen'\n")
	assert.Contains(t, out, "0102ab\n")
	assert.Contains(t, out, "200 (-56, C8)\n")

	sb.Reset()
	require.NoError(t, s.Dump(&sb, true))
	assert.NotContains(t, sb.String(), "mqtt_port")
	assert.Contains(t, sb.String(), "0404 (<unknown>): type BYTE")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewStore(reg)
	m := medium.NewMemory(128)
	s := newStore(t, m, WithMetrics(mt))

	require.Error(t, s.Read())
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.LoadsTotal.WithLabelValues("error")))

	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.Write())
	require.NoError(t, s.Write())
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.CommitsTotal.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.CommitsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Parameters))
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.CachedBytes))
}

func TestEEPROMMedium(t *testing.T) {
	dev, err := flash.NewMemDevice(256, 8)
	require.NoError(t, err)
	m, err := eeprom.New(dev, 4, 512, nil)
	require.NoError(t, err)

	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.SetBinary(hBlob, bytes.Repeat([]byte{7}, 300)))
	require.NoError(t, s.Write())

	m2, err := eeprom.New(dev, 4, 512, nil)
	require.NoError(t, err)
	s = reboot(t, m2)
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))
	assert.Equal(t, bytes.Repeat([]byte{7}, 300), s.GetBinary(hBlob))
}

func TestNVSMedium(t *testing.T) {
	m, err := nvs.Open(nvs.Config{InMemory: true, Size: 1024})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	s := newStore(t, m)
	require.NoError(t, Set[uint16](s, hPort, 500))
	require.NoError(t, s.SetString(hName, "kitchen"))
	require.NoError(t, s.Write())

	s = reboot(t, m)
	assert.Equal(t, uint16(500), Get[uint16](s, hPort))
	assert.Equal(t, "kitchen", s.GetString(hName))
}
