// porter-agent is the in-sandbox control agent. It runs inside the container
// and exposes process spawn, poll, kill, and exec over HTTP for the manager
// on the other side of the boundary.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/seantiz/porter/internal/agent"
	"github.com/seantiz/porter/internal/config"
)

const defaultAgentAddr = "127.0.0.1:9090"

func main() {
	addr := os.Getenv("PORTER_AGENT_ADDR")
	if addr == "" {
		addr = defaultAgentAddr
	}
	logger := config.NewLogger(os.Stdout, config.Load().LogLevel)

	a := agent.New(logger)

	logger.Info("porter-agent: listening", "addr", addr)
	if err := http.ListenAndServe(addr, a.Router()); err != nil {
		log.Fatalf("agent server error: %v", err)
	}
}
