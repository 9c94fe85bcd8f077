package trap

// SimCLINT is a host-only CLINT standing in for the real mtime/mtimecmp
// registers at board.Layout.CLINTMtime / CLINTMtimecmpBase; a
// bare-metal port reads/writes those physical addresses directly.
type SimCLINT struct {
	mtime    uint64
	mtimecmp [1]uint64 // single hart (spec §1 Non-goals: no SMP)
}

// NewSimCLINT returns a CLINT starting at mtime 0.
func NewSimCLINT() *SimCLINT { return &SimCLINT{} }

func (c *SimCLINT) ReadMtime() uint64 { return c.mtime }

func (c *SimCLINT) WriteMtimecmp(hart int, value uint64) { c.mtimecmp[hart] = value }

// Advance moves mtime forward by delta, for tests driving the timer
// interrupt path without a real clock.
func (c *SimCLINT) Advance(delta uint64) { c.mtime += delta }

// Mtimecmp returns the current mtimecmp value for hart, for test
// assertions.
func (c *SimCLINT) Mtimecmp(hart int) uint64 { return c.mtimecmp[hart] }
