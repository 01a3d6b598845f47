// The main package for the feed-finder executable.
package main

import (
	"github.com/JakeFAU/feed-finder/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
