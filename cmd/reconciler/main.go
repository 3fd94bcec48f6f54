package main // Entry point package

import (
	"log"

	"github.com/iliyamo/ticket-mint-reconciler/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatal(err) // Log and exit if the command fails
	}
}
