package indicators

// Window is a fixed-capacity ring of the most recent values. Once full, each
// Push evicts the oldest value.
type Window struct {
	buf   []float64
	start int
	n     int
}

// NewWindow returns an empty window holding up to size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]float64, size)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window) Push(v float64) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int   { return w.n }
func (w *Window) Cap() int   { return len(w.buf) }
func (w *Window) Full() bool { return w.n == len(w.buf) }

// At returns the i-th value, oldest first.
func (w *Window) At(i int) float64 {
	return w.buf[(w.start+i)%len(w.buf)]
}

// AppendValues appends the window contents to dst, oldest first.
func (w *Window) AppendValues(dst []float64) []float64 {
	for i := 0; i < w.n; i++ {
		dst = append(dst, w.At(i))
	}
	return dst
}

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []float64 {
	return w.AppendValues(make([]float64, 0, w.n))
}

// Mean is the arithmetic mean of the current contents. It sums the window on
// every call rather than keeping a running total.
func (w *Window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += w.At(i)
	}
	return sum / float64(w.n)
}

// Reset empties the window, keeping its capacity.
func (w *Window) Reset() {
	w.start, w.n = 0, 0
}

// SymbolWindows keeps one Window per symbol, created on first use.
// It is not safe for concurrent use.
type SymbolWindows struct {
	size    int
	windows map[string]*Window
}

// NewSymbolWindows builds a set of windows that each hold size values.
func NewSymbolWindows(size int) *SymbolWindows {
	return &SymbolWindows{size: size, windows: make(map[string]*Window)}
}

// Push records price for symbol and returns that symbol's window.
func (s *SymbolWindows) Push(symbol string, price float64) *Window {
	w, ok := s.windows[symbol]
	if !ok {
		w = NewWindow(s.size)
		s.windows[symbol] = w
	}
	w.Push(price)
	return w
}

// Get returns the window for symbol, or nil when nothing was pushed yet.
func (s *SymbolWindows) Get(symbol string) *Window {
	return s.windows[symbol]
}

// Reset drops every symbol's history.
func (s *SymbolWindows) Reset() {
	s.windows = make(map[string]*Window)
}
