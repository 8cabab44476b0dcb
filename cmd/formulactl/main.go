// Command formulactl inspects schemas and converts values to and from the
// formula wire format.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
