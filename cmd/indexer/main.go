package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	"github.com/Cooperation-org/claim-lexicon/internal/cli"
)

// Exit codes. A storage failure gets its own code so supervisors can tell a
// broken store from bad input.
const (
	exitError   = 1
	exitStorage = 2
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "claims-indexer: %v\n", err)
		if errors.Is(err, ingest.ErrStorage) {
			os.Exit(exitStorage)
		}
		os.Exit(exitError)
	}
}
