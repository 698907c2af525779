// Package cli implements the aurora command verbs on top of the transaction
// engine.
package cli

import (
	"github.com/aurora-linux/aurora/pkg/engine"
)

// Global flag bindings set up by the root command.
var (
	Root       *string
	Force      *bool
	SkipCrypto *bool
)

func rootDir() string {
	if Root == nil || *Root == "" {
		return "/"
	}
	return *Root
}

func forceFlag() bool {
	return Force != nil && *Force
}

func skipCryptoFlag() bool {
	return SkipCrypto != nil && *SkipCrypto
}

// newEngine constructs an engine from the global flags.
func newEngine() (*engine.Engine, error) {
	return engine.New(rootDir(), engine.Options{SkipCrypto: skipCryptoFlag()})
}
