// Command dcache inspects and exercises the caches declared in a properties
// or YAML file.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
