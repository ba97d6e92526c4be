// Command railsim runs the rail simulator's coordination core: the
// authoritative simulated clock with its shared time slot, the track store
// and the per-train safety arbiter. It also offers collaborator and
// operator utilities.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
