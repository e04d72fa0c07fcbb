// Package main is the entry point for resync.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
