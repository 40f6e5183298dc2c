package models

// SessionStatus is the lifecycle position of a demo session.
type SessionStatus string

const (
	StatusInitiated         SessionStatus = "initiated"
	StatusLookup            SessionStatus = "lookup"
	StatusNotCompatible     SessionStatus = "not_compatible"
	StatusConsentRequesting SessionStatus = "consent_requesting"
	StatusConsentRequested  SessionStatus = "consent_requested"
	StatusConsentPending    SessionStatus = "consent_pending"
	StatusConsentGranted    SessionStatus = "consent_granted"
	StatusConsentDeclined   SessionStatus = "consent_declined"
	StatusConsentTimeout    SessionStatus = "consent_timeout"
	StatusConsentNone       SessionStatus = "consent_none"
	StatusDemoSent          SessionStatus = "demo_sent"
	StatusMessageSent       SessionStatus = "message_sent"
	StatusCompleted         SessionStatus = "completed"
	StatusError             SessionStatus = "error"
)

// consentOutcomes are the statuses a consent callback can settle on.
var consentOutcomes = []SessionStatus{
	StatusConsentGranted,
	StatusConsentDeclined,
	StatusConsentTimeout,
	StatusConsentNone,
}

// transitions lists the forward edges of the workflow. Error is handled separately:
// it is reachable from every non-terminal status and absorbs everything.
//
// consent_requesting may skip straight to a consent callback outcome because the
// platform can deliver the consent callback before the send acknowledgement returns.
var transitions = map[SessionStatus][]SessionStatus{
	StatusInitiated:         {StatusLookup},
	StatusLookup:            {StatusNotCompatible, StatusConsentRequesting},
	StatusConsentRequesting: append([]SessionStatus{StatusConsentRequested, StatusConsentPending}, consentOutcomes...),
	StatusConsentRequested:  append([]SessionStatus{StatusConsentPending}, consentOutcomes...),
	StatusConsentPending:    consentOutcomes,
	StatusConsentGranted:    {StatusDemoSent},
	StatusDemoSent:          {StatusMessageSent},
	StatusMessageSent:       {StatusCompleted},
}

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusInitiated, StatusLookup, StatusNotCompatible, StatusConsentRequesting,
		StatusConsentRequested, StatusConsentPending, StatusConsentGranted,
		StatusConsentDeclined, StatusConsentTimeout, StatusConsentNone,
		StatusDemoSent, StatusMessageSent, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition can leave s.
func (s SessionStatus) IsTerminal() bool {
	if s == StatusError {
		return true
	}
	return len(transitions[s]) == 0
}

// CanTransition reports whether the workflow allows moving from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if next == StatusError {
		return !s.IsTerminal()
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ConsentProcess is the consent workflow stage reported by the platform.
type ConsentProcess string

const (
	ConsentProcessNone      ConsentProcess = "none"
	ConsentProcessPending   ConsentProcess = "pending"
	ConsentProcessTimeout   ConsentProcess = "timeout"
	ConsentProcessCompleted ConsentProcess = "completed"
)

// ConsentOutcome maps a consent callback onto the status it drives the session to.
func ConsentOutcome(process ConsentProcess, granted bool) SessionStatus {
	switch process {
	case ConsentProcessPending:
		return StatusConsentPending
	case ConsentProcessCompleted:
		if granted {
			return StatusConsentGranted
		}
		return StatusConsentDeclined
	case ConsentProcessTimeout:
		return StatusConsentTimeout
	default:
		return StatusConsentNone
	}
}
