package main

import (
	"context"
	"log"

	"github.com/suPer8Hu/llm-playground/internal/commands"
)

func main() {
	if err := commands.New().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("playground: %v", err)
	}
}
