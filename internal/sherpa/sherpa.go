// Package sherpa re-exports the sherpa-onnx Go bindings of the current
// platform, so the speech packages build unchanged on Linux and macOS.
package sherpa

import (
	"fmt"
	"slices"
	"strings"
)

// ResolveProvider maps "auto" or "" to DefaultProvider and rejects providers
// this platform cannot run.
func ResolveProvider(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" || p == "auto" {
		return DefaultProvider(), nil
	}
	if !slices.Contains(AvailableProviders(), p) {
		return "", fmt.Errorf("provider %q not available, use one of %v", p, AvailableProviders())
	}
	return p, nil
}
