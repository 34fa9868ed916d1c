package render

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

// streamWatcher forwards engine console output line by line while a
// performance is active. The scan goroutine starts on the first begin
// and runs until its reader closes; begin/end only gate forwarding, so
// chatter between performances is drained but not delivered.
type streamWatcher struct {
	r    io.Reader
	emit func(string)

	active atomic.Bool
	once   sync.Once
}

func newStreamWatcher(r io.Reader, emit func(string)) *streamWatcher {
	return &streamWatcher{r: r, emit: emit}
}

func (w *streamWatcher) begin() {
	w.active.Store(true)
	w.once.Do(func() {
		go w.run()
	})
}

func (w *streamWatcher) end() {
	w.active.Store(false)
}

func (w *streamWatcher) run() {
	sc := bufio.NewScanner(w.r)
	for sc.Scan() {
		if w.active.Load() {
			w.emit(sc.Text())
		}
	}
}
