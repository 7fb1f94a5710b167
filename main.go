// The main package for the top250 executable.
package main

import (
	"github.com/JakeFAU/top250-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
