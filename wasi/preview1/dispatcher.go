package preview1

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/term"

	wasminterp "github.com/wippyai/wasm-interp"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/interp"
)

const (
	fdStdin  uint32 = 0
	fdStdout uint32 = 1
	fdStderr uint32 = 2
)

const (
	filetypeUnknown         uint8 = 0
	filetypeCharacterDevice uint8 = 2
)

const (
	rightFdRead  uint64 = 1 << 1
	rightFdWrite uint64 = 1 << 6
)

const (
	clockRealtime uint32 = iota
	clockMonotonic
	clockProcessCPU
	clockThreadCPU
)

// maxRandomBytes caps a single random_get call.
const maxRandomBytes = 1 << 20

var (
	i32 = interp.KindI32
	i64 = interp.KindI64
)

type hostCall func(w *WASI, ctx context.Context, args []interp.Value, mem wasminterp.Memory) (Errno, error)

type function struct {
	params   []interp.Kind
	noResult bool
	call     hostCall
}

var functions = map[string]function{
	"args_get":          {params: []interp.Kind{i32, i32}, call: (*WASI).argsGet},
	"args_sizes_get":    {params: []interp.Kind{i32, i32}, call: (*WASI).argsSizesGet},
	"environ_get":       {params: []interp.Kind{i32, i32}, call: (*WASI).environGet},
	"environ_sizes_get": {params: []interp.Kind{i32, i32}, call: (*WASI).environSizesGet},
	"fd_write":          {params: []interp.Kind{i32, i32, i32, i32}, call: (*WASI).fdWrite},
	"fd_read":           {params: []interp.Kind{i32, i32, i32, i32}, call: (*WASI).fdRead},
	"fd_fdstat_get":     {params: []interp.Kind{i32, i32}, call: (*WASI).fdFdstatGet},
	"fd_close":          {params: []interp.Kind{i32}, call: (*WASI).fdClose},
	"fd_seek":           {params: []interp.Kind{i32, i64, i32, i32}, call: (*WASI).fdSeek},
	"proc_exit":         {params: []interp.Kind{i32}, noResult: true, call: (*WASI).procExit},
	"clock_time_get":    {params: []interp.Kind{i32, i64, i32}, call: (*WASI).clockTimeGet},
	"random_get":        {params: []interp.Kind{i32, i32}, call: (*WASI).randomGet},
	"sched_yield":       {call: (*WASI).schedYield},
}

// Functions returns the names of every import WASI serves, sorted.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolves implements interp.ImportResolver.
func (w *WASI) Resolves(module, name string) bool {
	if module != ModuleName {
		return false
	}
	_, ok := functions[name]
	return ok
}

// Dispatch implements interp.ImportDispatcher.
func (w *WASI) Dispatch(ctx context.Context, module, name string, args []interp.Value, mem wasminterp.Memory) ([]interp.Value, error) {
	fn, ok := functions[name]
	if module != ModuleName || !ok {
		return nil, interp.UnknownImport(module, name)
	}
	if err := checkArgs(name, fn.params, args); err != nil {
		return nil, err
	}

	errno, err := fn.call(w, ctx, args, mem)
	if err != nil {
		w.log.Debug("wasi call failed", zap.String("func", name), zap.Error(err))
		return nil, err
	}
	if ce := w.log.Check(zap.DebugLevel, "wasi call"); ce != nil {
		ce.Write(zap.String("func", name), zap.Stringer("errno", errno))
	}
	if fn.noResult {
		return nil, nil
	}
	return []interp.Value{interp.I32(int32(errno))}, nil
}

func checkArgs(name string, want []interp.Kind, args []interp.Value) error {
	if len(args) != len(want) {
		return errors.TypeMismatch(errors.PhaseHost, []string{ModuleName, name},
			kindList(want), valueKinds(args))
	}
	for i, k := range want {
		if !args[i].Is(k) {
			return errors.TypeMismatch(errors.PhaseHost, []string{ModuleName, name},
				kindList(want), valueKinds(args))
		}
	}
	return nil
}

func kindList(kinds []interp.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func valueKinds(args []interp.Value) string {
	kinds := make([]interp.Kind, len(args))
	for i, a := range args {
		kinds[i] = a.Kind()
	}
	return kindList(kinds)
}

// writeStrings lays out strs as NUL-terminated bytes at buf and stores a
// pointer to each at ptrs.
func writeStrings(mem wasminterp.Memory, strs []string, ptrs, buf uint32) Errno {
	for i, s := range strs {
		if err := mem.WriteU32(ptrs+uint32(i)*4, buf); err != nil {
			return ErrnoFault
		}
		data := append([]byte(s), 0)
		if err := mem.Write(buf, data); err != nil {
			return ErrnoFault
		}
		buf += uint32(len(data))
	}
	return ErrnoSuccess
}

func writeSizes(mem wasminterp.Memory, strs []string, countPtr, sizePtr uint32) Errno {
	var size uint32
	for _, s := range strs {
		size += uint32(len(s)) + 1
	}
	if mem.WriteU32(countPtr, uint32(len(strs))) != nil || mem.WriteU32(sizePtr, size) != nil {
		return ErrnoFault
	}
	return ErrnoSuccess
}

func (w *WASI) argsGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	return writeStrings(mem, w.args, a[0].U32(), a[1].U32()), nil
}

func (w *WASI) argsSizesGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	return writeSizes(mem, w.args, a[0].U32(), a[1].U32()), nil
}

func (w *WASI) environGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	return writeStrings(mem, w.environ(), a[0].U32(), a[1].U32()), nil
}

func (w *WASI) environSizesGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	return writeSizes(mem, w.environ(), a[0].U32(), a[1].U32()), nil
}

type iovec struct {
	buf, len uint32
}

// inBounds reports whether [offset, offset+length) lies inside mem.
func inBounds(mem wasminterp.Memory, offset, length uint32) bool {
	return uint64(offset)+uint64(length) <= uint64(mem.Size())
}

// readIovecs decodes count iovec entries at iovs. The array must fit in
// memory before anything is allocated for it.
func readIovecs(mem wasminterp.Memory, iovs, count uint32) ([]iovec, Errno) {
	if uint64(iovs)+uint64(count)*8 > uint64(mem.Size()) {
		return nil, ErrnoFault
	}
	out := make([]iovec, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, err := mem.Read(iovs+i*8, 8)
		if err != nil {
			return nil, ErrnoFault
		}
		out = append(out, iovec{
			buf: binary.LittleEndian.Uint32(raw),
			len: binary.LittleEndian.Uint32(raw[4:]),
		})
	}
	return out, ErrnoSuccess
}

func (w *WASI) writer(fd uint32) io.Writer {
	if w.closed[fd] {
		return nil
	}
	switch fd {
	case fdStdout:
		return w.stdout
	case fdStderr:
		return w.stderr
	}
	return nil
}

func (w *WASI) fdWrite(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	out := w.writer(a[0].U32())
	if out == nil {
		return ErrnoBadf, nil
	}
	iovs, errno := readIovecs(mem, a[1].U32(), a[2].U32())
	if errno != ErrnoSuccess {
		return errno, nil
	}

	var written uint32
	for _, iov := range iovs {
		data, err := mem.Read(iov.buf, iov.len)
		if err != nil {
			return ErrnoFault, nil
		}
		n, err := out.Write(data)
		written += uint32(n)
		if err != nil {
			return ErrnoIO, nil
		}
	}
	if mem.WriteU32(a[3].U32(), written) != nil {
		return ErrnoFault, nil
	}
	return ErrnoSuccess, nil
}

func (w *WASI) fdRead(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	if a[0].U32() != fdStdin || w.closed[fdStdin] {
		return ErrnoBadf, nil
	}
	iovs, errno := readIovecs(mem, a[1].U32(), a[2].U32())
	if errno != ErrnoSuccess {
		return errno, nil
	}

	var read uint32
	for _, iov := range iovs {
		if !inBounds(mem, iov.buf, iov.len) {
			return ErrnoFault, nil
		}
		buf := make([]byte, iov.len)
		n, err := w.stdin.Read(buf)
		if n > 0 {
			if mem.Write(iov.buf, buf[:n]) != nil {
				return ErrnoFault, nil
			}
			read += uint32(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return ErrnoIO, nil
		}
		if uint32(n) < iov.len {
			break
		}
	}
	if mem.WriteU32(a[3].U32(), read) != nil {
		return ErrnoFault, nil
	}
	return ErrnoSuccess, nil
}

func (w *WASI) stream(fd uint32) any {
	switch fd {
	case fdStdin:
		return w.stdin
	case fdStdout:
		return w.stdout
	case fdStderr:
		return w.stderr
	}
	return nil
}

var terminalCache = [3]int32{-1, -1, -1} // -1 = unchecked, 0 = no, 1 = yes

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	if fd > uintptr(fdStderr) {
		return term.IsTerminal(int(fd))
	}
	cached := &terminalCache[fd]
	if v := atomic.LoadInt32(cached); v >= 0 {
		return v == 1
	}
	result := term.IsTerminal(int(fd))
	if result {
		atomic.StoreInt32(cached, 1)
	} else {
		atomic.StoreInt32(cached, 0)
	}
	return result
}

func (w *WASI) fdFdstatGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	fd := a[0].U32()
	if fd > fdStderr || w.closed[fd] {
		return ErrnoBadf, nil
	}

	filetype := filetypeUnknown
	if f, ok := w.stream(fd).(*os.File); ok && isTerminal(f) {
		filetype = filetypeCharacterDevice
	}
	rights := rightFdWrite
	if fd == fdStdin {
		rights = rightFdRead
	}

	var stat [24]byte
	stat[0] = filetype
	binary.LittleEndian.PutUint64(stat[8:], rights)
	if mem.Write(a[1].U32(), stat[:]) != nil {
		return ErrnoFault, nil
	}
	return ErrnoSuccess, nil
}

func (w *WASI) fdClose(_ context.Context, a []interp.Value, _ wasminterp.Memory) (Errno, error) {
	fd := a[0].U32()
	if fd > fdStderr || w.closed[fd] {
		return ErrnoBadf, nil
	}
	w.closed[fd] = true
	return ErrnoSuccess, nil
}

func (w *WASI) fdSeek(_ context.Context, a []interp.Value, _ wasminterp.Memory) (Errno, error) {
	fd := a[0].U32()
	if fd > fdStderr || w.closed[fd] {
		return ErrnoBadf, nil
	}
	return ErrnoSpipe, nil
}

func (w *WASI) procExit(_ context.Context, a []interp.Value, _ wasminterp.Memory) (Errno, error) {
	return ErrnoSuccess, &ExitError{Code: a[0].U32()}
}

func (w *WASI) clockTimeGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	var ns uint64
	switch a[0].U32() {
	case clockRealtime:
		ns = uint64(w.now().UnixNano())
	case clockMonotonic, clockProcessCPU, clockThreadCPU:
		ns = uint64(w.now().Sub(w.start).Nanoseconds())
	default:
		return ErrnoInval, nil
	}
	if mem.WriteU64(a[2].U32(), ns) != nil {
		return ErrnoFault, nil
	}
	return ErrnoSuccess, nil
}

func (w *WASI) randomGet(_ context.Context, a []interp.Value, mem wasminterp.Memory) (Errno, error) {
	n := a[1].U32()
	if n > maxRandomBytes {
		return ErrnoInval, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(w.random, buf); err != nil {
		return ErrnoIO, nil
	}
	if mem.Write(a[0].U32(), buf) != nil {
		return ErrnoFault, nil
	}
	return ErrnoSuccess, nil
}

func (w *WASI) schedYield(context.Context, []interp.Value, wasminterp.Memory) (Errno, error) {
	return ErrnoSuccess, nil
}
