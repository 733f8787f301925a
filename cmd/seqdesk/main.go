package main

import (
	"os"

	"github.com/omixlabs/seqdesk/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
