package main

import (
	"github.com/joho/godotenv"

	"validator-watch/internal/cli"
)

func main() {
	_ = godotenv.Load(".env")
	cli.Execute()
}
