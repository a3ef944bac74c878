package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/store"
)

func main() {
	if err := LoadSettings(); err != nil {
		log.Fatalf("[Main] %v", err)
	}

	if err := InitializeModelRouter(); err != nil {
		log.Fatalf("[Main] router initialization failed: %v", err)
	}

	var err error
	chatStore, err = store.Open(settings.DatabasePath)
	if err != nil {
		// Chat still works without persistence
		log.Printf("[Main] persistence disabled: %v", err)
		chatStore = nil
	} else {
		defer chatStore.Close()
	}

	if err := InitAuditDB(settings.AuditDBPath); err != nil {
		log.Printf("[Main] audit disabled: %v", err)
	}

	mcpManager, err = NewMCPManager(settings.MCPConfigPath)
	if err != nil {
		log.Printf("[Main] MCP disabled: %v", err)
		mcpManager = nil
	}
	agentManager = NewAgentManager(mcpManager)

	startLimiterEviction()

	go func() {
		log.Printf("[Main] HTTP server listening on :%d", settings.HTTPPort)
		if err := StartHTTPServer(settings.HTTPPort); err != nil {
			log.Fatalf("[Main] HTTP server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[Main] shutting down")
	if modelRouter != nil {
		modelRouter.StopHealthChecks()
	}
}
