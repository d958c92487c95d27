// Package registry owns all loaded modules: dynamic library loading with
// the plugin ABI check, in-process registration, name uniqueness, typed
// capability lookup, and the unload rules.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

// entry tracks one registered module. Plugin-loaded entries keep the
// library handle and destructor; in-process entries have neither.
type entry struct {
	mod    module.Module
	plugin *loadedPlugin
}

// ipcAttacher is implemented by modules embedding module.Base
type ipcAttacher interface {
	AttachIPC(module.IPC)
}

// InUseFunc reports whether a module is bound to a started control loop.
// The scheduler provides it; a nil check never blocks unloading.
type InUseFunc func(name string) bool

// Registry owns the loaded modules. The map is protected by a short-held
// lock; lookups return handles, never map internals, and no user code runs
// under the lock.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*entry

	handles module.IPC
	inUse   InUseFunc
	logger  *slog.Logger
}

// New creates an empty registry. Modules registered later get the given
// IPC handles attached exactly once.
func New(logger *slog.Logger, handles module.IPC) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		modules: make(map[string]*entry),
		handles: handles,
		logger:  logger.With("component", "registry"),
	}
}

// SetInUseCheck installs the scheduler's binding check used by Unload
func (r *Registry) SetInUseCheck(fn InUseFunc) {
	r.mu.Lock()
	r.inUse = fn
	r.mu.Unlock()
}

// LoadModule opens a module shared object, verifies the plugin ABI, and
// registers the constructed module in the Uninitialized state with IPC
// handles attached. It fails if the library cannot be opened, a required
// symbol is missing, the reported ABI is incompatible, or the reported
// name is already registered.
func (r *Registry) LoadModule(path string) (module.Module, error) {
	lib, err := openPlugin(path)
	if err != nil {
		return nil, err
	}

	mod := lib.factory()
	if mod == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingSymbol, "Registry", "LoadModule",
			fmt.Sprintf("factory in %s returned nil", path))
	}

	if err := r.add(mod, lib); err != nil {
		lib.destroy(mod)
		return nil, err
	}

	r.logger.Info("module loaded",
		"name", mod.Name(), "version", mod.Version(), "path", path)
	return mod, nil
}

// Register adds an in-process module instance (mock or embedded hardware
// driver) under the same uniqueness rules as plugin loading.
func (r *Registry) Register(mod module.Module) error {
	if mod == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "module validation")
	}
	if err := r.add(mod, nil); err != nil {
		return err
	}
	r.logger.Info("module registered", "name", mod.Name(), "version", mod.Version())
	return nil
}

func (r *Registry) add(mod module.Module, lib *loadedPlugin) error {
	name := mod.Name()
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "add", "module name validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateModule, "Registry", "add",
			fmt.Sprintf("module %q", name))
	}

	if attacher, ok := mod.(ipcAttacher); ok {
		attacher.AttachIPC(r.handles)
	}

	r.modules[name] = &entry{mod: mod, plugin: lib}
	return nil
}

// Unload removes a module. It fails while the module is bound to a started
// control loop; otherwise it drives the module through Shutdown, runs the
// plugin destructor when present, and drops the entry.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	ent, exists := r.modules[name]
	if !exists {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrModuleNotFound, "Registry", "Unload",
			fmt.Sprintf("module %q", name))
	}
	inUse := r.inUse
	r.mu.Unlock()

	if inUse != nil && inUse(name) {
		return errors.WrapInvalid(errors.ErrModuleInUse, "Registry", "Unload",
			fmt.Sprintf("module %q", name))
	}

	if err := ent.mod.Shutdown(); err != nil {
		// Shutdown failures do not block removal
		r.logger.Warn("module shutdown failed during unload", "name", name, "error", err)
	}
	if ent.plugin != nil {
		ent.plugin.destroy(ent.mod)
	}

	r.mu.Lock()
	delete(r.modules, name)
	r.mu.Unlock()

	r.logger.Info("module unloaded", "name", name)
	return nil
}

// LoadedModules returns a snapshot of registered module names
func (r *Registry) LoadedModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// Module resolves a module by name regardless of capability
func (r *Registry) Module(name string) (module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ent, exists := r.modules[name]
	if !exists {
		return nil, false
	}
	return ent.mod, true
}

// Sensor resolves a module by name if it exposes the Sensor capability
func (r *Registry) Sensor(name string) (module.Sensor, bool) {
	mod, exists := r.Module(name)
	if !exists {
		return nil, false
	}
	sensor, ok := mod.(module.Sensor)
	return sensor, ok
}

// Actuator resolves a module by name if it exposes the Actuator capability
func (r *Registry) Actuator(name string) (module.Actuator, bool) {
	mod, exists := r.Module(name)
	if !exists {
		return nil, false
	}
	act, ok := mod.(module.Actuator)
	return act, ok
}

// Lookup resolves a module by name and requested capability. The result is
// empty when the module is absent or the capability does not match.
func (r *Registry) Lookup(name string, capability module.Capability) (module.Module, bool) {
	switch capability {
	case module.CapabilitySensor:
		s, ok := r.Sensor(name)
		if !ok {
			return nil, false
		}
		return s, true
	case module.CapabilityActuator:
		a, ok := r.Actuator(name)
		if !ok {
			return nil, false
		}
		return a, true
	default:
		return r.Module(name)
	}
}

// Modules returns a snapshot of all registered modules
func (r *Registry) Modules() []module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mods := make([]module.Module, 0, len(r.modules))
	for _, ent := range r.modules {
		mods = append(mods, ent.mod)
	}
	return mods
}

// Close shuts down and removes every registered module. Modules bound to
// started loops must be released by stopping the scheduler first.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.modules
	r.modules = make(map[string]*entry)
	r.mu.Unlock()

	for name, ent := range entries {
		if err := ent.mod.Shutdown(); err != nil {
			r.logger.Warn("module shutdown failed", "name", name, "error", err)
		}
		if ent.plugin != nil {
			ent.plugin.destroy(ent.mod)
		}
	}
	return nil
}
