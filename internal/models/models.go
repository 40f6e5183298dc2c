// Package models defines the core data structures for the IMSMS demo relay.
//
// It includes the session record, the callback payloads posted by the platform and
// the JSON envelopes returned to web clients.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyPhoneNumber  = errors.New("phone number is required")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Session is one client's in-progress verification-and-messaging workflow.
type Session struct {
	SessionID   string        `json:"sessionId"`
	PhoneNumber string        `json:"phoneNumber"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`

	// Lookup step
	IsCompatible      *bool  `json:"isCompatible,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
	LookupRequestDttm string `json:"lookupRequestDttm,omitempty"`
	LookupFinishDttm  string `json:"lookupFinishDttm,omitempty"`

	// Consent step
	ConsentProcess          ConsentProcess `json:"consentProcess,omitempty"`
	ConsentStatus           *bool          `json:"consentStatus,omitempty"`
	ConsentRequestDttm      string         `json:"consentRequestDttm,omitempty"`
	ConsentStatusUpdateDttm string         `json:"consentStatusUpdateDttm,omitempty"`
	ConsentImsID            string         `json:"consentImsId,omitempty"`
	ConsentReqDttm          string         `json:"consentReqDttm,omitempty"`

	// Demo message step
	DemoImsID        string          `json:"demoImsId,omitempty"`
	DemoReqDttm      string          `json:"demoReqDttm,omitempty"`
	MessageSent      bool            `json:"messageSent,omitempty"`
	MessageDelivered bool            `json:"messageDelivered,omitempty"`
	MessageInfo      json.RawMessage `json:"messageInfo,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewSession creates a session in the initiated status.
func NewSession(id, phoneNumber string, now time.Time) *Session {
	return &Session{
		SessionID:   id,
		PhoneNumber: phoneNumber,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.IsCompatible != nil {
		v := *s.IsCompatible
		c.IsCompatible = &v
	}
	if s.ConsentStatus != nil {
		v := *s.ConsentStatus
		c.ConsentStatus = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		c.CompletedAt = &v
	}
	if s.MessageInfo != nil {
		c.MessageInfo = append(json.RawMessage(nil), s.MessageInfo...)
	}
	return &c
}

// Transition moves the session to next when the workflow allows it.
func (s *Session) Transition(next SessionStatus, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// Fail moves the session to error with a diagnostic. It is a no-op for sessions that
// already reached a terminal status.
func (s *Session) Fail(reason string, now time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = StatusError
	s.Error = reason
	s.UpdatedAt = now
	return true
}

// LookupCallback is posted by the platform when a compatibility lookup finishes.
type LookupCallback struct {
	PhoneNumber  string `json:"phoneNumber"`
	RequestID    string `json:"requestId"`
	ResultCd     string `json:"resultCd"`
	IsCompatible bool   `json:"isCompatible"`
	RequestDttm  string `json:"requestDttm"`
	FinishDttm   string `json:"finishDttm"`
}

// ConsentCallback is posted by the platform on every consent workflow update.
type ConsentCallback struct {
	ImsAgentID              string         `json:"imsAgentId"`
	ConsentRecipient        string         `json:"consentRecipient"`
	ConsentProcess          ConsentProcess `json:"consentProcess"`
	ConsentStatus           bool           `json:"consentStatus"`
	ConsentRequestDttm      string         `json:"consentRequestDttm"`
	ConsentStatusUpdateDttm string         `json:"consentStatusUpdateDttm"`
}

// MessageCallback is posted by the platform when a sent message changes delivery state.
type MessageCallback struct {
	ImsID            string `json:"imsId"`
	PhoneNumber      string `json:"phoneNumber"`
	MessageSent      bool   `json:"messageSent"`
	MessageDelivered bool   `json:"messageDelivered"`
}

// InboundMessage is a mobile-originated message relayed by the platform.
type InboundMessage struct {
	ImsAgentID   string `json:"imsAgentId"`
	PhoneNumber  string `json:"phoneNumber"`
	Message      string `json:"message"`
	ReceivedDttm string `json:"receivedDttm"`
	ImsID        string `json:"imsId"`
}

// StartRequest is the web client's demo start payload.
type StartRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// ConsentRecord is one entry of the consented-numbers ledger.
type ConsentRecord struct {
	PhoneNumber string    `json:"phoneNumber"`
	ConsentedAt time.Time `json:"consentedAt"`
}

// APIResponse is the envelope returned by every JSON endpoint.
type APIResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Success creates a successful response without a message.
func Success() APIResponse {
	return APIResponse{Success: true}
}

// SuccessWithMessage creates a successful response with a message.
func SuccessWithMessage(message string) APIResponse {
	return APIResponse{Success: true, Message: message}
}

// Error creates a failed response with a message.
func Error(message string) APIResponse {
	return APIResponse{Success: false, Message: message}
}

// StatusResponse flattens a session snapshot next to the success flag.
type StatusResponse struct {
	Success bool `json:"success"`
	*Session
}

// HealthResponse reports liveness and the number of tracked sessions.
type HealthResponse struct {
	Status         string    `json:"status"`
	ActiveSessions int       `json:"activeSessions"`
	Timestamp      time.Time `json:"timestamp"`
}
