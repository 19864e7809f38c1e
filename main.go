package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/refset/support-desk/internal/app"
	"github.com/refset/support-desk/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to start support desk:", err)
	}
	defer a.Close()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received shutdown signal")
		cancel()
	}()

	if err := a.Serve(ctx); err != nil {
		log.Printf("Server error: %v", err)
		a.Close()
		os.Exit(1)
	}
}
