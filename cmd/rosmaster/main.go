// Command rosmaster runs the minimal master registry (internal/masterserver)
// as a standalone HTTP server. It exists for local development and for
// end-to-end scenarios that need a real master to register against; it is
// not a production master.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goros/rosnode/internal/masterserver"
)

func main() {
	addr := flag.String("addr", ":11311", "address to listen on")
	debug := flag.Bool("debug", false, "log every registration and lookup")
	flag.Parse()

	reg := masterserver.NewRegistry(*debug)
	srv := &http.Server{Addr: *addr, Handler: reg.Handler()}

	go func() {
		log.Printf("rosmaster listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rosmaster: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rosmaster: shutdown error: %v\n", err)
		os.Exit(1)
	}
}
