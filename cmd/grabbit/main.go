package main

import (
	"flag"
	"log"

	"github.com/aussiebroadwan/grabbit/internal/claimer/app"
)

func main() {
	tfaCode := flag.String("tfa-code", "", "two-factor code answering the startup pass challenge")
	flag.Parse()

	cfg := app.LoadConfig()
	cfg.StartupTwoFactorCode = *tfaCode

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
