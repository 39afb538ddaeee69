package main

import (
	"log"

	"fraudproof/services/validatord"
)

func main() {
	if err := validatord.Main(); err != nil {
		log.Fatalf("validatord: %v", err)
	}
}
