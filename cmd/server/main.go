package main

import (
	"log"

	approuters "github.com/Sarevi/farmafollow-sub000/internal/app_routers"
	"github.com/Sarevi/farmafollow-sub000/internal/configuration"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	container, err := configuration.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	approuters.StartServer(container)
}
