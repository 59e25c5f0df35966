// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/volantvm/reanaconda/internal/cli/standard"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := standard.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
