package main

import (
	"context"
	"log"

	"github.com/phorest/code-push-server/internal/app"
	"github.com/phorest/code-push-server/internal/config"
)

func main() {
	ctx := context.Background()

	cfg := config.LoadConfig()

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	a.Run(ctx)
}
