//go:build !windows

package main

import (
	"encoding/json"
	"log"
	"os"
	"syscall"

	"github.com/justirc/justirc-go/broker"
)

func notifySignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

func printSignalHelp(w *log.Logger) {
	w.Printf("signals: SIGHUP flushes state and reloads IP lists, SIGUSR1 logs a stats summary")
}

// handleSignal reports whether the signal was handled and the broker should
// keep running.
func handleSignal(sig os.Signal, logger *log.Logger, s *broker.Server) bool {
	switch sig {
	case syscall.SIGHUP:
		if err := s.Reload(); err != nil {
			logger.Printf("reload failed: %v", err)
		} else {
			logger.Printf("flushed state and reloaded IP lists")
		}
		return true
	case syscall.SIGUSR1:
		b, err := json.Marshal(s.Stats())
		if err != nil {
			logger.Printf("stats: %v", err)
			return true
		}
		logger.Printf("stats: %s", b)
		return true
	default:
		return false
	}
}
