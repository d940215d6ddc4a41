// spillreplay rereads an async logger's spillover directory and
// re-submits the events it finds to a running eventlogd server, then
// removes the files it fully drained.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/processlog/eventlog/client/asynclogger"
	"github.com/processlog/eventlog/client/token"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "eventlogd base URL")
	spillDir := flag.String("spill-dir", "", "directory passed as spillover_path to the producer SDK")
	authToken := flag.String("token", os.Getenv("EVENTLOG_AUTH_TOKEN"), "bearer token, if the server requires one")
	flag.Parse()

	if *spillDir == "" {
		log.Fatal("-spill-dir is required")
	}

	cfg := asynclogger.Config{BaseURL: *baseURL}
	if *authToken != "" {
		cfg.TokenProvider = token.Static(*authToken)
	}

	l, err := asynclogger.New(cfg)
	if err != nil {
		log.Fatalf("failed to start logger: %v", err)
	}
	defer l.Shutdown(30 * time.Second)

	scanner := asynclogger.NewReplayScanner(*spillDir)
	drained, err := l.Replay(scanner)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	l.Flush(10 * time.Second)

	for _, path := range drained {
		if err := os.Remove(path); err != nil {
			log.Printf("warning: failed to remove drained spill file %s: %v", path, err)
		}
	}

	log.Printf("replayed and removed %d spill file(s)", len(drained))
}
