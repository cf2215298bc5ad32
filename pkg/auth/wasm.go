package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var indexFunctions = []string{"cdx", "rdx", "bdx", "ndx", "mdx"}

// WASMComputer evaluates the index functions exported by the upstream
// WebAssembly module.
type WASMComputer struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	fns     map[string]api.Function
}

var _ IndexComputer = (*WASMComputer)(nil)

// LoadWASM downloads the index module.
func LoadWASM(ctx context.Context, tr transport.Transport, url string) ([]byte, error) {
	resp, err := tr.Do(ctx, transport.NewRequest(http.MethodGet, url, nil, nil))
	if err != nil {
		return nil, fmt.Errorf("download index module: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download index module: status %d", resp.StatusCode)
	}
	if len(resp.Raw) == 0 {
		return nil, fmt.Errorf("download index module: empty body")
	}
	return resp.Raw, nil
}

// NewWASMComputerFromURL downloads and instantiates the index module.
func NewWASMComputerFromURL(ctx context.Context, tr transport.Transport, url string) (*WASMComputer, error) {
	bin, err := LoadWASM(ctx, tr, url)
	if err != nil {
		return nil, err
	}
	return NewWASMComputer(ctx, bin)
}

// NewWASMComputer compiles and instantiates the module. Every function the
// module imports is satisfied by a host function of the declared signature
// that returns zeros.
func NewWASMComputer(ctx context.Context, bin []byte) (*WASMComputer, error) {
	r := wazero.NewRuntime(ctx)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile index module: %w", err)
	}

	if err := stubImports(ctx, r, compiled); err != nil {
		r.Close(ctx)
		return nil, err
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate index module: %w", err)
	}

	fns := make(map[string]api.Function, len(indexFunctions))
	for _, name := range indexFunctions {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			r.Close(ctx)
			return nil, fmt.Errorf("index module does not export %s", name)
		}
		def := fn.Definition()
		if len(def.ParamTypes()) != 5 || len(def.ResultTypes()) != 1 {
			r.Close(ctx)
			return nil, fmt.Errorf("index module export %s has %d params and %d results, want 5 and 1",
				name, len(def.ParamTypes()), len(def.ResultTypes()))
		}
		fns[name] = fn
	}

	return &WASMComputer{runtime: r, module: mod, fns: fns}, nil
}

func stubImports(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule) error {
	byModule := map[string][]api.FunctionDefinition{}
	var order []string
	for _, def := range compiled.ImportedFunctions() {
		moduleName, _, _ := def.Import()
		if _, seen := byModule[moduleName]; !seen {
			order = append(order, moduleName)
		}
		byModule[moduleName] = append(byModule[moduleName], def)
	}

	for _, moduleName := range order {
		builder := r.NewHostModuleBuilder(moduleName)
		for _, def := range byModule[moduleName] {
			_, name, _ := def.Import()
			results := def.ResultTypes()
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
					for i := range results {
						stack[i] = 0
					}
				}), def.ParamTypes(), results).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("stub imports of %q: %w", moduleName, err)
		}
	}
	return nil
}

func (w *WASMComputer) call(ctx context.Context, name string, args ...int64) (int, error) {
	fn := w.fns[name]
	def := fn.Definition()

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = encode(def.ParamTypes()[i], a)
	}

	w.mu.Lock()
	res, err := fn.Call(ctx, params...)
	w.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", name, err)
	}
	return decode(def.ResultTypes()[0], res[0]), nil
}

func encode(t api.ValueType, v int64) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v))
	case api.ValueTypeF64:
		return api.EncodeF64(float64(v))
	default:
		return api.EncodeI64(v)
	}
}

func decode(t api.ValueType, v uint64) int {
	switch t {
	case api.ValueTypeI32:
		return int(api.DecodeI32(v))
	case api.ValueTypeF32:
		return int(api.DecodeF32(v))
	case api.ValueTypeF64:
		return int(api.DecodeF64(v))
	default:
		return int(int64(v))
	}
}

// Cdx implements IndexComputer.
func (w *WASMComputer) Cdx(ctx context.Context, a, b, c, d, e int64) (int, error) {
	return w.call(ctx, "cdx", a, b, c, d, e)
}

// Rdx implements IndexComputer.
func (w *WASMComputer) Rdx(ctx context.Context, a, b, c, d, e int64) (int, error) {
	return w.call(ctx, "rdx", a, b, c, d, e)
}

// Bdx implements IndexComputer.
func (w *WASMComputer) Bdx(ctx context.Context, a, b, c, d, e int64) (int, error) {
	return w.call(ctx, "bdx", a, b, c, d, e)
}

// Ndx implements IndexComputer.
func (w *WASMComputer) Ndx(ctx context.Context, a, b, c, d, e int64) (int, error) {
	return w.call(ctx, "ndx", a, b, c, d, e)
}

// Mdx implements IndexComputer.
func (w *WASMComputer) Mdx(ctx context.Context, a, b, c, d, e int64) (int, error) {
	return w.call(ctx, "mdx", a, b, c, d, e)
}

// Close releases the runtime.
func (w *WASMComputer) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
