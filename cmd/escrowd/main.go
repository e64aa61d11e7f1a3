// Command escrowd serves the escrow ledger over HTTP.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/satsprocure/escrow/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	err := newRootCmd().Execute()
	if cerr := logger.Close(); cerr != nil {
		log.Printf("warning: could not close log output: %v", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}
