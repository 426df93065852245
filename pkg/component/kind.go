// Package component defines the plugin capability sets Stratum's core
// dispatches against: the closed ComponentKind enumeration, the capability
// interfaces a plugin value may implement for each kind, and the
// PluginInstance/specialization contract described by the core's data
// model.
package component

// Kind is a closed enumeration of plugin categories. It is compared by
// value (==), never by pointer identity.
type Kind string

const (
	// KindCommand identifies CLI-invokable task plugins.
	KindCommand Kind = "command"
	// KindHost identifies host-environment detection plugins.
	KindHost Kind = "host"
	// KindProvider identifies resource-provider plugins.
	KindProvider Kind = "provider"
)

// Kinds lists every registered ComponentKind in a stable order, used by
// callers that need to enumerate all kinds deterministically (e.g. a
// registry dump or a factory-registration sanity check).
func Kinds() []Kind {
	return []Kind{KindCommand, KindHost, KindProvider}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }
