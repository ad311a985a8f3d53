// Command courier-server runs the message relay: a TCP (and WebSocket)
// endpoint that registers users, routes messages between them, stores
// history in SQLite, and holds file attachments on disk.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/courierchat/courier/pkg/database"
	"github.com/courierchat/courier/pkg/filestore"
	"github.com/courierchat/courier/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.courier/courier.toml", "Path to config file (created with defaults if missing)")
	port := flag.Int("port", 0, "Override listen port from config")
	dbPath := flag.String("db", "", "Override database path from config")
	filesDir := flag.String("files", "", "Override attachment directory from config")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.ListenPort = *port
	}
	if *dbPath != "" {
		cfg.Server.DatabasePath = *dbPath
	}
	if *filesDir != "" {
		cfg.Server.FilesDir = *filesDir
	}

	databasePath, err := cfg.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	attachmentsDir, err := cfg.GetFilesDir()
	if err != nil {
		log.Fatalf("Failed to resolve attachment directory: %v", err)
	}

	db, err := database.Open(databasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	files, err := filestore.New(attachmentsDir)
	if err != nil {
		log.Fatalf("Failed to open file store: %v", err)
	}

	srv := server.NewServer(db, files, cfg.ToServerConfig())
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	fmt.Printf("courier-server listening on port %d (db: %s, files: %s)\n",
		cfg.Server.ListenPort, databasePath, attachmentsDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	fmt.Printf("Received %v, shutting down\n", sig)
	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
