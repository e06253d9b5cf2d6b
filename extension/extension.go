// Package extension implements the extension loader (C9): discovery and
// registration of user-provided actions, handlers, and watchers at startup.
//
// The original discovers components by walking a directory of Python
// modules and inspecting every top-level class with reflection
// (inspect.getmembers). A compiled Go binary cannot load new code at
// runtime the way an interpreter can, so per spec §9 Design Notes
// ("Dynamic extension discovery"), an extension here is a package that
// registers itself through an explicit function, called from that
// package's init. This is the same shape the standard library itself uses
// for pluggable drivers (database/sql.Register, image.RegisterFormat): a
// package-level registry populated only by init-time self-registration is
// the idiomatic exception to "no global mutable state", not a violation of
// it — nothing here carries per-request or per-instance business state,
// only which extension names exist and how to install them into one
// composition root's registries.
//
// The "scan a directory" capability survives as a convenience layer: the
// Loader walks the configured extensions directory, skips underscore-
// prefixed files (matching the original's module-discovery rule), reads
// each active extension's extra_config.yml, and then calls the explicit
// Registrar previously registered under that extension's name.
package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/muellerberndt/legion-core/action"
	"github.com/muellerberndt/legion-core/eventbus"
	"github.com/muellerberndt/legion-core/watcher"
)

// Registries bundles the composition root's live registries that an
// extension's Registrar populates. Passed by value since each field is
// itself a pointer to a shared, already-constructed component.
type Registries struct {
	Actions  *action.Registry
	Events   *eventbus.Bus
	Watchers *watcher.Manager
}

// Registrar is the explicit hook an extension package implements:
// register whatever actions, event handlers, and watchers it provides
// into reg. Errors are logged by the Loader and do not prevent other
// extensions from loading (spec §4.9: "Failure of one extension must not
// prevent loading the others").
type Registrar func(ctx context.Context, reg Registries) error

var (
	mu         sync.Mutex
	registered = map[string]Registrar{}
)

// Register adds an extension's Registrar under name. Intended to be
// called from an extension package's init() function, mirroring
// database/sql's driver-registration pattern. Calling Register twice for
// the same name replaces the prior registration, since package init order
// within a single binary is fixed and deterministic — there is no runtime
// race to guard against here the way there is for the rest of this
// module's mutable state.
func Register(name string, r Registrar) {
	mu.Lock()
	defer mu.Unlock()
	registered[name] = r
}

// Lookup returns the Registrar registered under name, if any.
func Lookup(name string) (Registrar, bool) {
	mu.Lock()
	defer mu.Unlock()
	r, ok := registered[name]
	return r, ok
}

// Names returns every currently registered extension name, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reset clears the package registry; used by tests to avoid cross-test
// pollution of the shared registration map.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registered = map[string]Registrar{}
}

// errNoRegistrar is returned (wrapped) when an active extension name has
// no corresponding Register call compiled into the binary.
var errNoRegistrar = fmt.Errorf("extension: no registrar found")
