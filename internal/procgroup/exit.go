// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import "fmt"

const (
	// ExitCodeInterrupted is the sentinel code recorded when no real exit code exists:
	// the process was killed by a signal, or its termination failed.
	ExitCodeInterrupted = 999

	// ExitCodePortOrInterrupt is what ffmpeg returns when the listen port is taken
	// or it received SIGINT.
	ExitCodePortOrInterrupt = 1
)

// ExitCause is the tagged reason a process ended.
type ExitCause int

const (
	CauseUnknown ExitCause = iota
	CauseNormal
	CauseApplicationError
	CauseKilledExternally
)

func (c ExitCause) String() string {
	switch c {
	case CauseNormal:
		return "normal"
	case CauseApplicationError:
		return "application_error"
	case CauseKilledExternally:
		return "killed_externally"
	default:
		return "unknown"
	}
}

// ExitReason is the classification of a raw exit observation.
// Code is meaningful for CauseApplicationError only.
type ExitReason struct {
	Cause ExitCause
	Code  int
}

// ClassifyExit maps a raw exit code to a reason. hadCode is false when the OS
// reported no exit code, which happens when a signal ended the process.
func ClassifyExit(code int, hadCode bool) ExitReason {
	switch {
	case !hadCode:
		return ExitReason{Cause: CauseKilledExternally}
	case code == 0:
		return ExitReason{Cause: CauseNormal}
	case code > 0:
		return ExitReason{Cause: CauseApplicationError, Code: code}
	default:
		return ExitReason{Cause: CauseUnknown, Code: code}
	}
}

// ExitStatus is an observed exit: the code to report and a human readable message.
type ExitStatus struct {
	Code    int
	Reason  ExitReason
	Message string
	// Signal names the terminating signal when the platform reports one.
	Signal string
}

// NewExitStatus classifies code and renders the status message.
func NewExitStatus(code int, hadCode bool) ExitStatus {
	reason := ClassifyExit(code, hadCode)
	st := ExitStatus{Code: code, Reason: reason}
	switch reason.Cause {
	case CauseNormal:
		st.Message = "exited normally"
	case CauseApplicationError:
		if code == ExitCodePortOrInterrupt {
			st.Message = "exit code 1, port may already be in use or SIGINT received"
		} else {
			st.Message = fmt.Sprintf("exited with errno=%d", code)
		}
	case CauseKilledExternally:
		st.Code = ExitCodeInterrupted
		st.Message = "terminated by signal"
	default:
		st.Message = fmt.Sprintf("unrecognised exit code %d", code)
	}
	return st
}

// Success reports a clean exit.
func (s ExitStatus) Success() bool {
	return s.Reason.Cause == CauseNormal
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("code=%d cause=%s signal=%s msg=%q", s.Code, s.Reason.Cause, s.Signal, s.Message)
	}
	return fmt.Sprintf("code=%d cause=%s msg=%q", s.Code, s.Reason.Cause, s.Message)
}
