package main

import (
	"dora/cmd/handlers"
	"dora/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
