// Package main is mock-engine, a deterministic stand-in for the propagation
// engine for local development.
//
// Usage:
//
//	SS_EXEC=$(go env GOPATH)/bin/mock-engine sigproxy
//	echo '-lat 44.7 -lon -68.8 -txh 4 -f 900 -erp 5 -rxh 2 -rt -90 -pm 4 -rla 44.73 -rlo -68.81' | mock-engine -sdf ./hgt
//	mock-engine -daemon
package main

import (
	"fmt"
	"os"

	"sigproxy/internal/mockengine"
)

func main() {
	if err := mockengine.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "mock-engine: %v\n", err)
		os.Exit(1)
	}
}
