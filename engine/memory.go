package engine

import (
	"github.com/tetratelabs/wazero/api"

	csound "github.com/jamestiotio/csound"
)

// wazeroMemory adapts wazero's api.Memory to csound.Memory.
//
// Views returned by View alias guest memory directly. After the guest
// grows its memory the backing array moves; holders detect this by the
// view reading as empty or by a Size change and re-acquire.
type wazeroMemory struct {
	mem api.Memory
}

func (m *wazeroMemory) View(offset, length uint32) []byte {
	if m.mem == nil || length == 0 {
		return nil
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil
	}
	return data
}

func (m *wazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ csound.Memory = (*wazeroMemory)(nil)
