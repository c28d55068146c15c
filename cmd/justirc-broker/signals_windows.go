//go:build windows

package main

import (
	"log"
	"os"

	"github.com/justirc/justirc-go/broker"
)

// Windows has no SIGHUP or SIGUSR1; any delivered signal shuts down.
func notifySignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func printSignalHelp(w *log.Logger) {
	w.Printf("signals: CTRL+C shuts down")
}

func handleSignal(os.Signal, *log.Logger, *broker.Server) bool {
	return false
}
