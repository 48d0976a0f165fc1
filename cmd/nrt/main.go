// Command nrt compiles and runs WebAssembly modules.
package main

import (
	"context"
	"os"

	"github.com/spf13/afero"
)

func main() {
	os.Exit(doMain(context.Background(), afero.NewOsFs(), os.Args[1:], os.Stdout, os.Stderr))
}
