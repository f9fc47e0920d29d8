package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisMeeQ/clavum/internal/platform"
	"github.com/dennisMeeQ/clavum/internal/server"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

func main() {
	addr := flag.String("addr", envOr("CLAVUM_ADDR", ":8080"), "listen address")
	mongoURI := flag.String("mongo", envOr("CLAVUM_MONGO_URI", ""), "MongoDB URI")
	mongoDB := flag.String("db", envOr("CLAVUM_MONGO_DB", "clavum"), "Mongo database name")
	flag.Parse()

	logger := log.New(os.Stdout, "[clavumd] ", log.LstdFlags|log.Lshortfile)

	if err := platform.DisableCoreDumps(); err != nil {
		logger.Printf("core dumps still enabled: %v", err)
	}

	if *mongoURI == "" {
		logger.Fatal("mongo URI required (-mongo or CLAVUM_MONGO_URI)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewMongo(ctx, *mongoURI, *mongoDB)
	if err != nil {
		logger.Fatalf("mongo: %v", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(dctx)
	}()

	srv := server.New(server.Config{
		Addr:     *addr,
		MongoURI: *mongoURI,
		MongoDB:  *mongoDB,
	}, store, logger, nil)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
