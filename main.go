// The main package for the venuecrawl executable.
package main

import (
	"github.com/venuegrid/crawler/cmd"
)

func main() {
	cmd.Execute()
}
