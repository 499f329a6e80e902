// Command meshd runs one mistnet overlay node: a TCP link socket, record
// store, and RPC responder wired together behind a small cobra CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
