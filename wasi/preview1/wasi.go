package preview1

import (
	"bytes"
	"crypto/rand"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ModuleName is the import namespace served by WASI.
const ModuleName = "wasi_snapshot_preview1"

// WASI configures a preview1 environment. Use builder methods to set up.
type WASI struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	random io.Reader
	now    func() time.Time
	start  time.Time
	log    *zap.Logger
	outBuf *bytes.Buffer
	errBuf *bytes.Buffer
	env    map[string]string
	closed map[uint32]bool
	args   []string
}

// New creates a WASI environment with no arguments, an empty environment,
// empty stdin and stdout/stderr captured in memory.
func New() *WASI {
	w := &WASI{
		stdin:  bytes.NewReader(nil),
		outBuf: &bytes.Buffer{},
		errBuf: &bytes.Buffer{},
		random: rand.Reader,
		now:    time.Now,
		env:    make(map[string]string),
		closed: make(map[uint32]bool),
		log:    zap.NewNop(),
	}
	w.stdout = w.outBuf
	w.stderr = w.errBuf
	w.start = w.now()
	return w
}

// WithArgs sets command-line arguments, program name first
func (w *WASI) WithArgs(args []string) *WASI {
	w.args = args
	return w
}

// WithEnv sets environment variables
func (w *WASI) WithEnv(env map[string]string) *WASI {
	w.env = env
	return w
}

// WithStdin sets the source of fd 0
func (w *WASI) WithStdin(r io.Reader) *WASI {
	w.stdin = r
	return w
}

// WithStdout sends fd 1 to wr instead of the capture buffer
func (w *WASI) WithStdout(wr io.Writer) *WASI {
	w.stdout = wr
	return w
}

// WithStderr sends fd 2 to wr instead of the capture buffer
func (w *WASI) WithStderr(wr io.Writer) *WASI {
	w.stderr = wr
	return w
}

// WithRandom replaces the random_get source
func (w *WASI) WithRandom(r io.Reader) *WASI {
	w.random = r
	return w
}

// WithClock replaces the realtime clock
func (w *WASI) WithClock(now func() time.Time) *WASI {
	w.now = now
	w.start = now()
	return w
}

// WithLogger logs every call at debug level
func (w *WASI) WithLogger(l *zap.Logger) *WASI {
	w.log = l
	return w
}

// Args returns command-line arguments
func (w *WASI) Args() []string {
	return w.args
}

// Env returns environment variables
func (w *WASI) Env() map[string]string {
	return w.env
}

// Stdout returns captured stdout contents
func (w *WASI) Stdout() []byte {
	return w.outBuf.Bytes()
}

// Stderr returns captured stderr contents
func (w *WASI) Stderr() []byte {
	return w.errBuf.Bytes()
}

// environ renders the environment as sorted KEY=value strings.
func (w *WASI) environ() []string {
	out := make([]string, 0, len(w.env))
	for k, v := range w.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
