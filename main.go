package main

import (
	"github.com/joho/godotenv"

	"verifactu/cmd"
)

func main() {
	// Optional .env for local development; real deployments use the config file
	_ = godotenv.Load()

	cmd.Execute()
}
