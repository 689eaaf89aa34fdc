package runtime

import (
	"github.com/wippyai/wasm-interp/wasi/preview1"
)

// RegisterWASI serves wasi_snapshot_preview1 imports from wasi. Functions
// registered under the same namespace with RegisterFunc take precedence.
func (r *Runtime) RegisterWASI(wasi *preview1.WASI) error {
	return r.hosts.RegisterDispatcher(preview1.ModuleName, wasi.WithLogger(r.log.Named("wasi")))
}
