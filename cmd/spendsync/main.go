// Command spendsync records finance entries offline and syncs them with
// the backend.
package main

import (
	"os"

	"github.com/roach88/spendsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
