package telemetry

// FixedSource is a Source that replays a scripted sequence of Worlds, one
// per Poll call, and then repeats the final entry forever. It is the
// deterministic stand-in for the real telemetry transport used throughout
// this module's test suites.
type FixedSource struct {
	worlds []World
	idx    int
	down   bool
}

// NewFixedSource returns a FixedSource that will yield each World in order.
func NewFixedSource(worlds ...World) *FixedSource {
	return &FixedSource{worlds: worlds}
}

// SetDown toggles whether Poll reports the source as unavailable, modelling
// a transient telemetry disconnect.
func (f *FixedSource) SetDown(down bool) {
	f.down = down
}

func (f *FixedSource) Poll() (World, bool) {
	if f.down {
		return World{}, false
	}
	if len(f.worlds) == 0 {
		return World{}, false
	}
	w := f.worlds[f.idx]
	if f.idx < len(f.worlds)-1 {
		f.idx++
	}
	return w, true
}
