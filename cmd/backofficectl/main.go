package main

import (
	"os"

	"github.com/automata-backoffice/backoffice/cmd/backofficectl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
