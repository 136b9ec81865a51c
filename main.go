package main

import (
	"github.com/sidkik/pairsync/cmd"
	"github.com/sidkik/pairsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
