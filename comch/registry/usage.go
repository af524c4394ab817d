package registry

// Usage restricts which programs should accept a given provider.
//
// Providers are linked at build time: a provider registers itself via init()
// and is enabled in a binary by importing its package (often as a blank import).
type Usage uint8

const (
	// UsageCLI marks providers available to host-side programs (e.g. ldpc-offload).
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks providers available to long-running daemons.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
