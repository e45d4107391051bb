package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/toolvault/download-gateway/internal/app/bootstrap"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/default.yaml"
	}

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	if err := runtime.RunAPI(ctx); err != nil {
		log.Fatalf("api runtime terminated: %v", err)
	}
}
