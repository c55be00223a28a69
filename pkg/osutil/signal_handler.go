// Package osutil provides process-level helpers for graceful shutdown
// on interrupt signals.
package osutil

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kfsvr/metavr/pkg/xlog"
)

var logger = xlog.NewLogger("osutil", xlog.INFO)

// InterruptHandler is called on receiving an interrupt signal
// (SIGINT, SIGTERM, SIGQUIT).
//
// (etcd pkg.osutil.InterruptHandler)
type InterruptHandler func()

var (
	mu                sync.Mutex
	interruptHandlers []InterruptHandler
)

// RegisterInterruptHandler registers a handler run when an interrupt
// signal arrives, in registration order.
//
// (etcd pkg.osutil.RegisterInterruptHandler)
func RegisterInterruptHandler(h InterruptHandler) {
	mu.Lock()
	interruptHandlers = append(interruptHandlers, h)
	mu.Unlock()
}

// WaitForInterruptSignals blocks the calling goroutine's spawned
// watcher until one of sigs arrives, then runs every registered
// handler and re-raises the signal against this process.
//
// (etcd pkg.osutil.HandleInterrupts)
func WaitForInterruptSignals(sigs ...os.Signal) {
	notifier := make(chan os.Signal, 1)
	signal.Notify(notifier, sigs...)

	go func() {
		sig := <-notifier

		mu.Lock()
		copied := make([]InterruptHandler, len(interruptHandlers))
		copy(copied, interruptHandlers)
		mu.Unlock()

		logger.Warningf("received %v signal, shutting down...", sig)
		for _, h := range copied {
			h()
		}

		signal.Stop(notifier)

		pid := syscall.Getpid()
		if pid == 1 {
			os.Exit(0)
		}
		logger.Warningf("sending syscall.Kill %s to PID %d", sig, pid)
		syscall.Kill(pid, sig.(syscall.Signal))
	}()
}
