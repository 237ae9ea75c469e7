package main

import (
	"context"
	"fmt"
	"os"

	"github.com/EasterCompany/dex-tts-service/app"
	logger "github.com/EasterCompany/dex-tts-service/log"
)

var version = "dev"

func main() {
	ctx := context.Background()

	a, err := app.NewApp(ctx, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing relay: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Fatal("Relay stopped with an error", err)
	}
}
