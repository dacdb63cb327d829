// Package credentials resolves platform credentials from the environment.
package credentials

import (
	"os"
	"strings"
	"unicode"

	"github.com/portfolio-aggregator/internal/types"
)

// EnvProvider reads credentials from variables named <PLATFORM>_<KEY>, for
// example ETHEREUM_ADDRESSES or CRYPTOCOM_API_SECRET
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a provider backed by the process environment
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// NewMapProvider creates a provider backed by a fixed variable map
func NewMapProvider(vars map[string]string) *EnvProvider {
	return &EnvProvider{lookup: func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}}
}

// Get returns the credential and whether it is set to a non-empty value
func (p *EnvProvider) Get(platform types.Platform, key string) (string, bool) {
	v, ok := p.lookup(VarName(platform, key))
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// VarName returns the environment variable holding key for platform
func VarName(platform types.Platform, key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(platform.String()) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	b.WriteByte('_')
	b.WriteString(strings.ToUpper(key))
	return b.String()
}
