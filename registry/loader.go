package registry

import (
	"fmt"
	"plugin"
	"strings"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

// ABIVersion is the plugin ABI the running framework accepts. It is part of
// the string returned by every plugin's ModuleInfo symbol.
const ABIVersion = "dcs/1"

// Required plugin symbols. A loadable unit exports exactly these three:
// a factory constructing the module, a destructor consuming it, and a
// metadata accessor returning "name version abi".
const (
	SymbolFactory    = "NewModule"
	SymbolDestructor = "DestroyModule"
	SymbolInfo       = "ModuleInfo"
)

// FactoryFunc constructs an owned module instance
type FactoryFunc func() module.Module

// DestructorFunc consumes a module instance produced by the factory
type DestructorFunc func(module.Module)

// InfoFunc returns the static "name version abi" descriptor
type InfoFunc func() string

// Info is the parsed plugin descriptor
type Info struct {
	Name    string
	Version string
	ABI     string
}

// ParseInfo parses the descriptor returned by a plugin's ModuleInfo symbol.
// The expected form is three space-separated fields: name, version, ABI tag.
func ParseInfo(s string) (Info, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Info{}, errors.WrapInvalid(errors.ErrMissingSymbol, "loader", "ParseInfo",
			fmt.Sprintf("descriptor %q must be \"name version abi\"", s))
	}
	return Info{Name: fields[0], Version: fields[1], ABI: fields[2]}, nil
}

// Compatible reports whether the plugin's ABI matches the framework's
func (i Info) Compatible() bool {
	return i.ABI == ABIVersion
}

// loadedPlugin bundles the resolved symbols of an opened library.
// Go cannot unload a plugin once opened; the handle is retained until
// process exit, but the destructor still runs on module unload.
type loadedPlugin struct {
	handle  *plugin.Plugin
	path    string
	info    Info
	factory FactoryFunc
	destroy DestructorFunc
}

// openPlugin opens a shared object and resolves the three required symbols
func openPlugin(path string) (*loadedPlugin, error) {
	handle, err := plugin.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrLibraryOpen, err), "loader", "openPlugin", path)
	}

	infoSym, err := handle.Lookup(SymbolInfo)
	if err != nil {
		return nil, missingSymbol(path, SymbolInfo)
	}
	infoFn, ok := infoSym.(func() string)
	if !ok {
		return nil, missingSymbol(path, SymbolInfo)
	}

	info, err := ParseInfo(infoFn())
	if err != nil {
		return nil, err
	}
	if !info.Compatible() {
		return nil, errors.WrapFatal(errors.ErrVersionMismatch, "loader", "openPlugin",
			fmt.Sprintf("plugin ABI %q, framework ABI %q", info.ABI, ABIVersion))
	}

	factorySym, err := handle.Lookup(SymbolFactory)
	if err != nil {
		return nil, missingSymbol(path, SymbolFactory)
	}
	factory, ok := factorySym.(func() module.Module)
	if !ok {
		return nil, missingSymbol(path, SymbolFactory)
	}

	destroySym, err := handle.Lookup(SymbolDestructor)
	if err != nil {
		return nil, missingSymbol(path, SymbolDestructor)
	}
	destroy, ok := destroySym.(func(module.Module))
	if !ok {
		return nil, missingSymbol(path, SymbolDestructor)
	}

	return &loadedPlugin{
		handle:  handle,
		path:    path,
		info:    info,
		factory: factory,
		destroy: destroy,
	}, nil
}

func missingSymbol(path, symbol string) error {
	return errors.WrapInvalid(errors.ErrMissingSymbol, "loader", "openPlugin",
		fmt.Sprintf("%s in %s", symbol, path))
}
