// Command lockerctl is the operator CLI for lockerd.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lockerctl:", err)
		os.Exit(1)
	}
}
