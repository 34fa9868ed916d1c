package engine

import (
	"bytes"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	csounderrors "github.com/jamestiotio/csound/errors"
)

// MemFS is the engine's virtual filesystem. The guest sees it as a
// read-only fs.FS mount; the host writes into it through the
// csound.FileSystem passthroughs (scores, samples, analysis files).
type MemFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemFS returns an empty virtual filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// WriteToFS stores data under name, replacing any previous content.
func (m *MemFS) WriteToFS(name string, data []byte) error {
	name = path.Clean(name)
	if name == "." || name == "/" || strings.HasPrefix(name, "..") {
		return csounderrors.InvalidInput(csounderrors.PhaseFS, "invalid file name "+name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[strings.TrimPrefix(name, "/")] = buf
	return nil
}

// ReadFromFS returns a copy of the named file's content.
func (m *MemFS) ReadFromFS(name string) ([]byte, error) {
	name = strings.TrimPrefix(path.Clean(name), "/")
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, csounderrors.NotFound(csounderrors.PhaseFS, "file", name)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// ListFS returns the sorted names of files under dir ("" or "." for
// the root).
func (m *MemFS) ListFS(dir string) ([]string, error) {
	dir = strings.TrimPrefix(path.Clean(dir), "/")
	if dir == "." {
		dir = ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.files {
		if dir == "" || strings.HasPrefix(name, dir+"/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open implements fs.FS for the guest-side mount.
func (m *MemFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	m.mu.RLock()
	data, ok := m.files[name]
	m.mu.RUnlock()
	if !ok {
		if name == "." {
			return &memDir{fsys: m}, nil
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memFile{name: path.Base(name), r: bytes.NewReader(data), size: int64(len(data))}, nil
}

type memFile struct {
	name string
	r    *bytes.Reader
	size int64
}

func (f *memFile) Stat() (fs.FileInfo, error) { return memInfo{name: f.name, size: f.size}, nil }
func (f *memFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *memFile) Close() error               { return nil }

type memDir struct {
	fsys *MemFS
}

func (d *memDir) Stat() (fs.FileInfo, error) { return memInfo{name: ".", dir: true}, nil }
func (d *memDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid}
}
func (d *memDir) Close() error { return nil }

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return modeFor(i.dir) }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

func modeFor(dir bool) fs.FileMode {
	if dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
