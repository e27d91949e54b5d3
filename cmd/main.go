package main

import (
	"os"
)

func main() {
	if err := SetupRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
