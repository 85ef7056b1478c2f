package main

import (
	"log"

	"gitscout/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitscout: %v", err)
	}
}
