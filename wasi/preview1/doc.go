// Package preview1 implements the wasi_snapshot_preview1 host functions as
// an interp.ImportDispatcher.
//
// # Quick Start
//
//	wasi := preview1.New().
//	    WithArgs([]string{"program", "--verbose"}).
//	    WithEnv(map[string]string{"HOME": "/home/user"}).
//	    WithStdin(strings.NewReader("input data"))
//
//	inst, err := interp.Instantiate(ctx, mod, wasi)
//	_, err = inst.Call(ctx, "_start")
//
//	var exit *preview1.ExitError
//	if errors.As(err, &exit) {
//	    os.Exit(int(exit.Code))
//	}
//
// # Implemented Functions
//
//   - args_get, args_sizes_get, environ_get, environ_sizes_get
//   - fd_write (fd 1 and 2), fd_read (fd 0), fd_fdstat_get, fd_close, fd_seek
//   - clock_time_get, random_get, sched_yield
//   - proc_exit, surfaced to the caller as *ExitError
//
// There is no filesystem. Descriptors other than stdio report badf, and
// seeking stdio reports spipe.
//
// # Capturing Output
//
// Unless WithStdout or WithStderr redirect them, fd 1 and fd 2 are captured
// in memory:
//
//	stdout := wasi.Stdout()
//	stderr := wasi.Stderr()
//
// # Thread Safety
//
// A WASI value holds per-run descriptor state and must serve one instance
// at a time.
package preview1
