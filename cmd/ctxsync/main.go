// Command ctxsync saves the cookies and storage of a list of sites from a
// Chrome browser to a private GitHub gist, and restores them into another.
//
// Usage:
//
//	ctxsync settings set-token < token.txt
//	ctxsync settings set-urls https://mail.example.com https://app.example.org
//	ctxsync save
//	ctxsync restore
//	ctxsync scripts disable            # blocks until Ctrl-C
//	ctxsync history --limit 10
//	ctxsync serve --addr 127.0.0.1:7717
//	ctxsync mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ctxsync:", err)
		stop()
		os.Exit(1)
	}
}
