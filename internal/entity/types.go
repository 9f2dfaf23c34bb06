package entity

import "sort"

// registry assigns each entity Type a stable small integer, used by the
// binary protocol codec (internal/protocol) instead of sending type name
// strings on every spawn. The mapping must be identical on client and
// server, so registration order never varies: RegisterType returns the
// existing index for a name that is already registered, and the package's
// init() registers the built-in set in a fixed order.
var (
	byName  = map[string]uint8{}
	byIndex = []string{}
)

// RegisterType assigns the next free index to name, returning it. Intended
// to be called only during process startup (package init or main), never
// once the simulation is serving traffic.
func RegisterType(name string) uint8 {
	if idx, ok := byName[name]; ok {
		return idx
	}
	idx := uint8(len(byIndex))
	byName[name] = idx
	byIndex = append(byIndex, name)
	return idx
}

// TypeIndex returns the registered index for name, or false if unregistered.
func TypeIndex(name string) (uint8, bool) {
	idx, ok := byName[name]
	return idx, ok
}

// TypeName returns the name registered at idx.
func TypeName(idx uint8) (string, bool) {
	if int(idx) >= len(byIndex) {
		return "", false
	}
	return byIndex[idx], true
}

// RegisteredTypeNames returns all registered names, alphabetically, for
// diagnostics and the admin HTTP surface.
func RegisteredTypeNames() []string {
	out := make([]string, len(byIndex))
	copy(out, byIndex)
	sort.Strings(out)
	return out
}

func init() {
	// Built-in types, order fixed for wire compatibility.
	RegisterType("player")
	RegisterType("wolf")
	RegisterType("deer")
	RegisterType("chicken")
	RegisterType("campfire")
	RegisterType("chest")
	RegisterType("tree_stump")
}
