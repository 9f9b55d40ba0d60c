package main

import (
	"log"

	"github.com/lechieutung2003/cleanzy-app/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("payments service failed: %v", err)
	}
}
