package main

import "flag"

// newFlagSet returns a flag.FlagSet configured the way every subcommand
// wants it: continue-on-error so main can wrap the error with context,
// rather than the flag package's default os.Exit(2).
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs
}
