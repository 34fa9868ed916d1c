package engine

import (
	"errors"
	"io"
	"io/fs"
	"testing"

	csounderrors "github.com/jamestiotio/csound/errors"
)

func TestMemFS_RoundTrip(t *testing.T) {
	m := NewMemFS()

	if err := m.WriteToFS("samples/kick.wav", []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteToFS: %v", err)
	}

	data, err := m.ReadFromFS("samples/kick.wav")
	if err != nil {
		t.Fatalf("ReadFromFS: %v", err)
	}
	if len(data) != 3 || data[0] != 1 {
		t.Errorf("got %v, want [1 2 3]", data)
	}

	// Returned slice is a copy, mutating it must not affect the store.
	data[0] = 99
	again, _ := m.ReadFromFS("samples/kick.wav")
	if again[0] != 1 {
		t.Error("ReadFromFS returned a live reference, want a copy")
	}
}

func TestMemFS_NotFound(t *testing.T) {
	m := NewMemFS()
	_, err := m.ReadFromFS("missing.orc")
	if !errors.Is(err, &csounderrors.Error{Phase: csounderrors.PhaseFS, Kind: csounderrors.KindNotFound}) {
		t.Errorf("got %v, want fs/not_found", err)
	}
}

func TestMemFS_InvalidName(t *testing.T) {
	for _, name := range []string{".", "/", "../escape"} {
		if err := m0().WriteToFS(name, nil); err == nil {
			t.Errorf("WriteToFS(%q) accepted an invalid name", name)
		}
	}
}

func m0() *MemFS { return NewMemFS() }

func TestMemFS_ListFS(t *testing.T) {
	m := NewMemFS()
	m.WriteToFS("b.sco", []byte("i1 0 1"))
	m.WriteToFS("a.orc", []byte("instr 1"))
	m.WriteToFS("sub/c.wav", nil)

	names, err := m.ListFS("")
	if err != nil {
		t.Fatalf("ListFS: %v", err)
	}
	want := []string{"a.orc", "b.sco", "sub/c.wav"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	sub, _ := m.ListFS("sub")
	if len(sub) != 1 || sub[0] != "sub/c.wav" {
		t.Errorf("ListFS(sub) = %v", sub)
	}
}

func TestMemFS_FSInterface(t *testing.T) {
	m := NewMemFS()
	m.WriteToFS("score.sco", []byte("i1 0 4"))

	f, err := m.Open("score.sco")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 6 || info.IsDir() {
		t.Errorf("unexpected file info: size=%d dir=%v", info.Size(), info.IsDir())
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "i1 0 4" {
		t.Errorf("content = %q", data)
	}

	if _, err := m.Open("nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want ErrNotExist", err)
	}
	if _, err := m.Open("../bad"); !errors.Is(err, fs.ErrInvalid) {
		t.Errorf("Open(invalid) = %v, want ErrInvalid", err)
	}
}
