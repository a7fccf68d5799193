package monitor

import (
	"fmt"
	"os"
	"syscall"
)

// TriggerKind selects the reaction to a termination event
type TriggerKind int

const (
	// Interrupt dumps and terminates
	Interrupt TriggerKind = iota
	// Reload dumps and keeps running
	Reload
	// Fault dumps, prints the fault detail and terminates with an error
	Fault
)

func (k TriggerKind) String() string {
	switch k {
	case Interrupt:
		return "INTERRUPT"
	case Reload:
		return "RELOAD"
	case Fault:
		return "EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Trigger is a termination event delivered to the session loop
type Trigger struct {
	Kind   TriggerKind
	Reason string // e.g. the signal name
	Err    error  // fault detail, Fault only
}

func (t Trigger) String() string {
	if t.Reason == "" {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s (%s)", t.Kind, t.Reason)
}

// TriggerFromSignal maps SIGHUP to Reload and every other signal to Interrupt
func TriggerFromSignal(sig os.Signal) Trigger {
	if sig == syscall.SIGHUP {
		return Trigger{Kind: Reload, Reason: sig.String()}
	}
	return Trigger{Kind: Interrupt, Reason: sig.String()}
}

// Signals lists the signals the analyzer reacts to
func Signals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}

// FaultError is returned by Session.Run after an unrecoverable fault
type FaultError struct {
	Err error
}

func (e *FaultError) Error() string { return "fault: " + e.Err.Error() }

func (e *FaultError) Unwrap() error { return e.Err }
