// Command searchctl administers a search deployment from the shell: it
// inspects and drains the task log, validates catalogs, runs searches and
// manages API keys against the configured stores.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/searchapi/cmd/searchctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
