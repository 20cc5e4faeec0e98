// Command ensemble runs worker ensembles described by a YAML config,
// trains their weights against labeled data and inspects the learned
// weights.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &cli{}
	err := newRootCmd(c).ExecuteContext(ctx)

	closeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if cerr := c.close(closeCtx); cerr != nil && c.logger != nil {
		c.logger.Warn("shutdown incomplete", "error", cerr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
