// Package main is the blockforge compiler service executable: it wires the
// storage adapter, orchestrator, job queue, and streaming session manager
// behind an HTTP(S)+WebSocket listener.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/websocket"

	"github.com/blockforge/compiler/internal/authtoken"
	"github.com/blockforge/compiler/internal/metrics"
	"github.com/blockforge/compiler/internal/orchestrator"
	"github.com/blockforge/compiler/internal/queue"
	"github.com/blockforge/compiler/internal/session"
	"github.com/blockforge/compiler/internal/store"
	"github.com/blockforge/compiler/internal/xlog"
)

// NOTE: set by ldflags at build time.
var (
	version string
	build   string
)

var (
	listenAddr   = flag.String("listen", ":8080", "HTTP/WebSocket listen address")
	storeBackend = flag.String("store", "memory", "storage adapter backend: memory, bunt, sqlite")
	storePath    = flag.String("store-path", "./blockforge.db", "storage file path (bunt/sqlite backends)")
	queueWorkers = flag.Int("queue-workers", queue.DefaultWorkers, "job queue worker pool size")
	authSecret   = flag.String("auth-secret", "", "HMAC secret for bearer-token verification; empty disables auth")

	archiveBucket = flag.String("archive-bucket", "", "S3 bucket for durable compilation history; empty disables archival")
	archivePrefix = flag.String("archive-prefix", "blockforge-archive/", "key prefix within the archive bucket")
	archiveRegion = flag.String("archive-region", "us-east-1", "AWS region for the archive bucket")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	xlog.Infof("blockforge compiler %s (build %s) starting on %s", version, build, *listenAddr)
	defer xlog.Flush()

	adapter, err := openStore(*storeBackend, *storePath)
	if err != nil {
		xlog.Errorf("failed to open storage adapter: %v", err)
		return 1
	}
	defer adapter.Close()

	archive, err := openArchive(*archiveBucket, *archivePrefix, *archiveRegion)
	if err != nil {
		xlog.Errorf("failed to open archive adapter: %v", err)
		return 1
	}

	orch := orchestrator.New(adapter, orchestrator.Options{Archive: archive})

	jobQueue := queue.New(makeJobHandler(orch), queue.Options{Workers: *queueWorkers})
	defer jobQueue.Stop()

	var verifier *authtoken.Verifier
	if *authSecret != "" {
		verifier = authtoken.NewVerifier(*authSecret)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/compile", httpCompileHandler(jobQueue, verifier))
	mux.HandleFunc("/jobs/", httpJobStatusHandler(jobQueue, verifier))
	mux.HandleFunc("/stream", wsSessionHandler(orch, verifier))

	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	go runQueueGC(jobQueue)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			xlog.Errorf("server error: %v", err)
			return 1
		}
	case <-sigCh:
		xlog.Infof("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			xlog.Errorf("graceful shutdown failed: %v", err)
			return 1
		}
	}
	return 0
}

func openStore(backend, path string) (store.Adapter, error) {
	switch backend {
	case "memory", "":
		return store.NewMemAdapter(), nil
	case "bunt":
		return store.NewBuntAdapter(path)
	case "sqlite":
		return store.NewSQLAdapter(path)
	default:
		xlog.Warnf("unknown store backend %q, defaulting to in-memory", backend)
		return store.NewMemAdapter(), nil
	}
}

// openArchive builds the optional S3 archival adapter. An empty bucket
// disables archival entirely, returning a nil store.Adapter that
// orchestrator.Options.Archive treats as "skip archiving".
func openArchive(bucket, prefix, region string) (store.Adapter, error) {
	if bucket == "" {
		return nil, nil
	}
	sess, err := awssession.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return store.NewS3Adapter(sess, bucket, prefix), nil
}

func runQueueGC(q *queue.Queue) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		q.PruneExpired()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func wsSessionHandler(orch *orchestrator.Orchestrator, verifier *authtoken.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorize(r, verifier) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			xlog.Warnf("websocket upgrade failed: %v", err)
			return
		}
		transport := session.NewWSTransport(conn)
		connection := session.NewConnection(transport, orch, session.Options{})
		if err := connection.Serve(r.Context()); err != nil {
			xlog.Infof("session %s ended: %v", connection.ID(), err)
		}
	}
}

func authorize(r *http.Request, verifier *authtoken.Verifier) bool {
	if verifier == nil {
		return true
	}
	tok := r.Header.Get("Authorization")
	if len(tok) > 7 && tok[:7] == "Bearer " {
		tok = tok[7:]
	}
	_, err := verifier.Verify(tok)
	return err == nil
}
