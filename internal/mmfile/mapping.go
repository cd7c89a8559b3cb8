// Package mmfile memory-maps flash image files.
package mmfile

// Mapping is a writable view of a file.
type Mapping struct {
	Data []byte

	sync  func() error
	close func() error
}

// Sync flushes modified pages to the file.
func (m *Mapping) Sync() error {
	if m == nil || m.sync == nil {
		return nil
	}
	return m.sync()
}

// Close flushes and releases the mapping. Data must not be used afterwards.
func (m *Mapping) Close() error {
	if m == nil || m.close == nil {
		return nil
	}
	err := m.Sync()
	if cerr := m.close(); err == nil {
		err = cerr
	}
	m.Data = nil
	m.sync, m.close = nil, nil
	return err
}
