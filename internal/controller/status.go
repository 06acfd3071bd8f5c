package controller

// CoreStatus is the device-reported lifecycle state. The device is the source
// of truth: the gateway never computes or infers a status, it only mirrors the
// last report.
type CoreStatus string

const (
	StatusUndef CoreStatus = "UNDEF"
	StatusOK    CoreStatus = "OK"
	StatusAdapt CoreStatus = "ADAPT"
	StatusError CoreStatus = "ERROR"
)

// ParseCoreStatus validates a reported status value.
func ParseCoreStatus(s string) (CoreStatus, bool) {
	switch CoreStatus(s) {
	case StatusUndef, StatusOK, StatusAdapt, StatusError:
		return CoreStatus(s), true
	}
	return "", false
}

// Effect is a side-effecting command produced by a status transition. Keeping
// transitions pure lets them be tested without a broker connection.
type Effect int

const (
	// EffectLogNominal records that the core is operating normally.
	EffectLogNominal Effect = iota
	// EffectStartAdaptation triggers one adaptation run.
	EffectStartAdaptation
	// EffectLogFault records an operational fault; no automatic remediation.
	EffectLogFault
	// EffectLogUndefined records an unexpected return to UNDEF.
	EffectLogUndefined
)

// Transition applies a device status report. The reported value replaces the
// current state unconditionally; the returned effects are executed by the
// caller.
func Transition(_, reported CoreStatus) (CoreStatus, []Effect) {
	switch reported {
	case StatusOK:
		return StatusOK, []Effect{EffectLogNominal}
	case StatusAdapt:
		return StatusAdapt, []Effect{EffectStartAdaptation}
	case StatusError:
		return StatusError, []Effect{EffectLogFault}
	default:
		return StatusUndef, []Effect{EffectLogUndefined}
	}
}
