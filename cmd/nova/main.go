// The nova command runs the bancho server: it loads the configuration,
// connects the database and the optional redis presence mirror, and serves
// the game client endpoint until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dzifors/nova/internal/bancho"
	"github.com/dzifors/nova/internal/core"
	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/session"
)

var configFlag = flag.String("config", "./", "Path to the directory containing the server config file")

func main() {
	flag.Parse()

	config := core.LoadConfig(*configFlag)
	fmt.Println("using configuration file:", *configFlag)

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	db, err := data.Initialize(config.DatabaseURL(), false)
	if err != nil {
		logger.Fatalf("error connecting to database: %v", err)
	}
	defer func() { _ = data.Shutdown(db) }()

	var presence *session.PresenceStore
	if config.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Address,
			Password: config.Redis.Password,
			DB:       config.Redis.Database,
		})
		defer func() { _ = client.Close() }()
		presence = session.NewPresenceStore(client, logger)
	}

	server, err := bancho.NewServer(config, logger, db, presence)
	if err != nil {
		logger.Fatalf("error initializing bancho server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    config.BindAddress(),
		Handler: server.Router(),
	}

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("waiting to shut down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Errorf("error shutting down: %v", err)
		}
	}()

	logger.Infof("serving bancho on %s", config.BindAddress())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("error serving: %v", err)
	}
	logger.Info("shut down")
}
