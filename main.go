package main

import (
	"fmt"
	"os"

	"github.com/agubarev/bolt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boltctl:", err)
		os.Exit(1)
	}
}
