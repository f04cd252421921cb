// Command nfefetch downloads NF-e XML documents by replaying recorded
// browser interactions.
package main

import (
	"context"
	"os"

	"github.com/roach88/nfefetch/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
