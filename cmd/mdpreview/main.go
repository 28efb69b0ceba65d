// Throwaway harness to eyeball Renderer output outside a live session.
// Run: go run cmd/mdpreview/main.go [file.md]
package main

import (
	"fmt"
	"os"

	"github.com/anvilworks/anvil/internal/cli"
)

const sample = `### Plan

I suggest we do this in three steps:

- Add a ` + "`Makefile`" + ` with build and test targets
- Wire the version stamp into the build
- Run the test suite to verify everything

Say the word and I will propose the files.
`

func main() {
	md := sample
	if len(os.Args) > 1 {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		md = string(data)
	}

	r := cli.NewRenderer(os.Stdout, false, false)

	fmt.Println("=== RAW ===")
	fmt.Print(md)
	fmt.Println("=== RENDERED ===")
	r.Assistant(md)

	fmt.Println("=== CHROME ===")
	r.Banner("/tmp/example", "ship the HTTP API", 7)
	r.Proposal("Create file cmd/server/main.go (1204 bytes)")
	r.Notice("Build attempt 1/3: go build ./...")
	r.Error("exit status 2")
	r.NextSteps([]string{"check the import path", "run the failing test alone"})
	r.StatusLine("gpt-4o-mini", 12345, 3)
}
