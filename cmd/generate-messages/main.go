// Command generate-messages is a thin CLI front end for a ".msg"/".srv"
// code generator that is out of scope for this module. The core never
// depends on a concrete generator; this binary exists only to give that
// collaborator a place to be invoked from.
package main

import (
	"flag"
	"fmt"
	"os"
)

// Generator turns message/service schema files into the typed
// serialize/deserialize/md5sum/datatype contract pkg/message.Message and
// pkg/message.Service describe. No implementation ships in this repo: a
// real generator is wired in by whoever builds this binary for their own
// package layout.
type Generator interface {
	Generate(pkgName string) error
}

func main() {
	pkgName := flag.String("package", "", "package name to generate messages for")
	flag.Parse()

	var gen Generator // left nil: no concrete generator is in scope here
	if gen == nil {
		fmt.Fprintln(os.Stderr, "generate-messages: no Generator wired into this build")
		os.Exit(1)
	}

	if err := gen.Generate(*pkgName); err != nil {
		fmt.Fprintf(os.Stderr, "generate-messages: %v\n", err)
		os.Exit(1)
	}
}
