package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teamplayer/imsms-demo/internal/imsms"
	"github.com/teamplayer/imsms-demo/internal/models"
	"github.com/teamplayer/imsms-demo/internal/phone"
	"github.com/teamplayer/imsms-demo/internal/store"
)

// Callback paths the platform posts to, relative to the public callback base URL.
const (
	LookupCallbackPath  = "/api/callback/lookup"
	ConsentCallbackPath = "/api/callback/consent"
	MessageCallbackPath = "/api/callback/message"
)

// DefaultCompletionDelay is the pause between message_sent and completed.
const DefaultCompletionDelay = time.Second

// Session diagnostics.
const (
	DiagLookupCall  = "LookUp API call failed"
	DiagLookup      = "LookUp failed"
	DiagConsentSend = "consent message send failed"
	DiagDemoSend    = "demo message send failed"
)

// ErrLookupRejected is returned when the lookup callback carries a failure result code.
var ErrLookupRejected = errors.New("lookup rejected by platform")

// Opts holds configuration options for the Orchestrator.
type Opts struct {
	CallbackURL     string // public base URL the platform posts callbacks to
	AgentID         string
	CompletionDelay time.Duration
	Ledger          store.Ledger
	Normalizer      *phone.Normalizer
	Generators      *Registry
	Clock           func() time.Time
	NewID           func() string
}

// Option defines a functional option for configuring the Orchestrator.
type Option func(*Opts)

// WithCallbackURL sets the public base URL used to build callback addresses.
func WithCallbackURL(url string) Option {
	return func(o *Opts) { o.CallbackURL = url }
}

// WithAgentID sets the sending agent for consent and demo messages.
func WithAgentID(agentID string) Option {
	return func(o *Opts) { o.AgentID = agentID }
}

// WithCompletionDelay overrides DefaultCompletionDelay.
func WithCompletionDelay(d time.Duration) Option {
	return func(o *Opts) { o.CompletionDelay = d }
}

// WithLedger sets the ledger that records granted consents.
func WithLedger(l store.Ledger) Option {
	return func(o *Opts) { o.Ledger = l }
}

// WithNormalizer sets the phone normalizer used by Start.
func WithNormalizer(n *phone.Normalizer) Option {
	return func(o *Opts) { o.Normalizer = n }
}

// WithGenerators sets the message copy registry.
func WithGenerators(r *Registry) Option {
	return func(o *Opts) { o.Generators = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Opts) { o.NewID = fn }
}

// Orchestrator drives each session through the workflow in response to client requests
// and platform callbacks. It never holds a session across a gateway call: every step
// re-applies its result through SessionStore.Update with a state guard.
type Orchestrator struct {
	gateway    imsms.Gateway
	sessions   *store.SessionStore
	ledger     store.Ledger
	normalizer *phone.Normalizer
	generators *Registry
	timer      *SimpleTimer

	callbackURL     string
	agentID         string
	completionDelay time.Duration
	now             func() time.Time
	newID           func() string
}

// NewOrchestrator creates an Orchestrator. The callback URL falls back to CALLBACK_URL
// and the agent id to IMSMS_AGENT_ID.
func NewOrchestrator(gateway imsms.Gateway, sessions *store.SessionStore, opts ...Option) (*Orchestrator, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = os.Getenv("CALLBACK_URL")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL not set")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = os.Getenv("IMSMS_AGENT_ID")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = imsms.DefaultAgentID
	}
	if cfg.CompletionDelay <= 0 {
		cfg.CompletionDelay = DefaultCompletionDelay
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = phone.NewNormalizer()
	}
	if cfg.Generators == nil {
		cfg.Generators = NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	slog.Debug("Orchestrator.NewOrchestrator: configured",
		"callbackURL", cfg.CallbackURL,
		"agentID", cfg.AgentID,
		"completionDelay", cfg.CompletionDelay,
		"ledger_set", cfg.Ledger != nil)

	return &Orchestrator{
		gateway:         gateway,
		sessions:        sessions,
		ledger:          cfg.Ledger,
		normalizer:      cfg.Normalizer,
		generators:      cfg.Generators,
		timer:           NewSimpleTimer(),
		callbackURL:     strings.TrimRight(cfg.CallbackURL, "/"),
		agentID:         cfg.AgentID,
		completionDelay: cfg.CompletionDelay,
		now:             cfg.Clock,
		newID:           cfg.NewID,
	}, nil
}

// Start normalizes the phone number, creates a session and requests a compatibility
// lookup. A lookup dispatch failure leaves the session in error and is returned.
func (o *Orchestrator) Start(ctx context.Context, rawPhone string) (*models.Session, error) {
	if strings.TrimSpace(rawPhone) == "" {
		return nil, models.ErrEmptyPhoneNumber
	}
	phoneNumber := o.normalizer.Normalize(rawPhone)
	id := o.newID()
	if err := o.sessions.Create(models.NewSession(id, phoneNumber, o.now())); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.Info("Orchestrator.Start: session created", "sessionID", id, "phone", phoneNumber)

	res, err := o.gateway.Lookup(ctx, imsms.LookupRequest{
		PhoneNumbers: []string{phoneNumber},
		CallbackURL:  o.callback(LookupCallbackPath),
		Metadata:     map[string]string{"sessionId": id},
	})
	if err == nil && res == nil {
		err = errors.New("empty lookup response")
	}
	if err == nil {
		err = checkResult("lookup", res.ResultCd, res.ResultMsg)
	}
	if err != nil {
		slog.Error("Orchestrator.Start: lookup dispatch failed", "sessionID", id, "error", err)
		return o.fail(id, DiagLookupCall), fmt.Errorf("%s: %w", DiagLookupCall, err)
	}

	updated, err := o.sessions.Update(id, func(s *models.Session) error {
		if err := s.Transition(models.StatusLookup, o.now()); err != nil {
			return err
		}
		s.RequestID = res.RequestID
		s.LookupRequestDttm = res.RequestDttm
		return nil
	})
	if err != nil {
		slog.Warn("Orchestrator.Start: session changed during lookup dispatch", "sessionID", id, "error", err)
		return updated, nil
	}
	slog.Info("Orchestrator.Start: lookup requested", "sessionID", id, "requestID", res.RequestID)
	return updated, nil
}

// HandleLookupCallback applies a lookup result to the first session for the phone
// number that is waiting in lookup. A compatible device triggers the consent request.
func (o *Orchestrator) HandleLookupCallback(ctx context.Context, cb models.LookupCallback) (*models.Session, error) {
	sess, ok := o.sessions.FindByPhone(cb.PhoneNumber, func(s *models.Session) bool {
		return s.Status == models.StatusLookup
	})
	if !ok {
		slog.Warn("Orchestrator.HandleLookupCallback: no session in lookup", "phone", cb.PhoneNumber)
		return nil, models.ErrSessionNotFound
	}
	id := sess.SessionID

	if cb.ResultCd != imsms.ResultCodeSuccess {
		slog.Warn("Orchestrator.HandleLookupCallback: lookup failed", "sessionID", id, "resultCd", cb.ResultCd)
		failed := o.fail(id, fmt.Sprintf("%s: %s", DiagLookup, cb.ResultCd))
		return failed, fmt.Errorf("%w: result code %s", ErrLookupRejected, cb.ResultCd)
	}

	compatible := cb.IsCompatible
	next := models.StatusConsentRequesting
	if !compatible {
		next = models.StatusNotCompatible
	}
	updated, err := o.sessions.Update(id, func(s *models.Session) error {
		if err := s.Transition(next, o.now()); err != nil {
			return err
		}
		s.IsCompatible = &compatible
		if compatible {
			s.RequestID = cb.RequestID
			s.LookupRequestDttm = cb.RequestDttm
			s.LookupFinishDttm = cb.FinishDttm
		}
		return nil
	})
	if err != nil {
		return o.stale("HandleLookupCallback", id, updated, err)
	}
	if !compatible {
		slog.Info("Orchestrator.HandleLookupCallback: device not compatible", "sessionID", id, "phone", cb.PhoneNumber)
		return updated, nil
	}

	slog.Info("Orchestrator.HandleLookupCallback: device compatible, requesting consent", "sessionID", id)
	if err := o.sendConsent(ctx, updated); err != nil {
		slog.Error("Orchestrator.HandleLookupCallback: consent request failed", "sessionID", id, "error", err)
	}
	return o.snapshot(id, updated), nil
}

// sendConsent dispatches the consent request. The session moves to consent_requested
// unless a consent callback already advanced it, in which case only the ids are kept.
func (o *Orchestrator) sendConsent(ctx context.Context, sess *models.Session) error {
	id := sess.SessionID
	body, err := o.generators.Generate(ctx, MessageRequest{Kind: MessageConsent, SessionID: id, PhoneNumber: sess.PhoneNumber})
	if err != nil {
		o.fail(id, fmt.Sprintf("%s: %v", DiagConsentSend, err))
		return err
	}

	res, err := o.gateway.Send(ctx, imsms.SendRequest{
		SendTo:             sess.PhoneNumber,
		SendType:           imsms.SendTypeImmediate,
		Message:            body,
		ImsAgentID:         o.agentID,
		ConsentCallbackURL: o.callback(ConsentCallbackPath),
	})
	if err = sendError(res, err); err != nil {
		o.fail(id, fmt.Sprintf("%s: %s", DiagConsentSend, imsms.Reason(err)))
		return err
	}

	_, err = o.sessions.Update(id, func(s *models.Session) error {
		if s.Status == models.StatusError {
			return models.ErrInvalidTransition
		}
		s.ConsentImsID = res.ImsID
		s.ConsentReqDttm = res.ImsReqDttm
		if s.Status == models.StatusConsentRequesting {
			return s.Transition(models.StatusConsentRequested, o.now())
		}
		return nil
	})
	if err != nil {
		slog.Warn("Orchestrator.sendConsent: could not record consent request", "sessionID", id, "error", err)
		return nil
	}
	slog.Info("Orchestrator.sendConsent: consent request sent", "sessionID", id, "imsID", res.ImsID)
	return nil
}

// HandleConsentCallback applies a consent update to the first session for the
// recipient. Updates that the session already moved past are ignored.
func (o *Orchestrator) HandleConsentCallback(ctx context.Context, cb models.ConsentCallback) (*models.Session, error) {
	sess, ok := o.sessions.FindByPhone(cb.ConsentRecipient, nil)
	if !ok {
		slog.Warn("Orchestrator.HandleConsentCallback: no session for recipient", "phone", cb.ConsentRecipient)
		return nil, models.ErrSessionNotFound
	}
	id := sess.SessionID
	next := models.ConsentOutcome(cb.ConsentProcess, cb.ConsentStatus)

	updated, err := o.sessions.Update(id, func(s *models.Session) error {
		if err := s.Transition(next, o.now()); err != nil {
			return err
		}
		granted := cb.ConsentStatus
		s.ConsentProcess = cb.ConsentProcess
		s.ConsentStatus = &granted
		s.ConsentRequestDttm = cb.ConsentRequestDttm
		s.ConsentStatusUpdateDttm = cb.ConsentStatusUpdateDttm
		return nil
	})
	if err != nil {
		return o.stale("HandleConsentCallback", id, updated, err)
	}
	slog.Info("Orchestrator.HandleConsentCallback: consent updated", "sessionID", id, "process", cb.ConsentProcess, "status", next)

	if next != models.StatusConsentGranted {
		return updated, nil
	}

	if o.ledger != nil {
		if err := o.ledger.RecordConsent(ctx, updated.PhoneNumber); err != nil {
			slog.Error("Orchestrator.HandleConsentCallback: failed to record consent", "sessionID", id, "error", err)
		}
	}
	if err := o.sendDemo(ctx, updated); err != nil {
		slog.Error("Orchestrator.HandleConsentCallback: demo message failed", "sessionID", id, "error", err)
	}
	return o.snapshot(id, updated), nil
}

// sendDemo dispatches the demo message to a session that granted consent.
func (o *Orchestrator) sendDemo(ctx context.Context, sess *models.Session) error {
	id := sess.SessionID
	body, err := o.generators.Generate(ctx, MessageRequest{Kind: MessageDemo, SessionID: id, PhoneNumber: sess.PhoneNumber})
	if err != nil {
		o.fail(id, fmt.Sprintf("%s: %v", DiagDemoSend, err))
		return err
	}

	res, err := o.gateway.Send(ctx, imsms.SendRequest{
		SendTo:      sess.PhoneNumber,
		SendType:    imsms.SendTypeImmediate,
		Message:     body,
		ImsAgentID:  o.agentID,
		CallbackURL: o.callback(MessageCallbackPath),
	})
	if err = sendError(res, err); err != nil {
		o.fail(id, fmt.Sprintf("%s: %s", DiagDemoSend, imsms.Reason(err)))
		return err
	}

	_, err = o.sessions.Update(id, func(s *models.Session) error {
		if err := s.Transition(models.StatusDemoSent, o.now()); err != nil {
			return err
		}
		s.DemoImsID = res.ImsID
		s.DemoReqDttm = res.ImsReqDttm
		return nil
	})
	if err != nil {
		slog.Warn("Orchestrator.sendDemo: could not record demo message", "sessionID", id, "error", err)
		return nil
	}
	slog.Info("Orchestrator.sendDemo: demo message sent", "sessionID", id, "imsID", res.ImsID)
	return nil
}

// HandleMessageCallback applies a delivery report. When the demo message is reported
// sent, the session moves to message_sent and completes after the completion delay.
func (o *Orchestrator) HandleMessageCallback(ctx context.Context, cb models.MessageCallback) (*models.Session, error) {
	sess, ok := o.sessions.FindByImsID(cb.ImsID)
	if !ok {
		slog.Warn("Orchestrator.HandleMessageCallback: no session for ims id", "imsID", cb.ImsID)
		return nil, models.ErrSessionNotFound
	}
	id := sess.SessionID
	if sess.DemoImsID != cb.ImsID {
		slog.Info("Orchestrator.HandleMessageCallback: report for consent message", "sessionID", id, "imsID", cb.ImsID,
			"sent", cb.MessageSent, "delivered", cb.MessageDelivered)
		return sess, nil
	}
	if !cb.MessageSent {
		slog.Debug("Orchestrator.HandleMessageCallback: message not sent yet", "sessionID", id, "imsID", cb.ImsID)
		return sess, nil
	}

	transitioned := false
	updated, err := o.sessions.Update(id, func(s *models.Session) error {
		if s.Status == models.StatusError {
			return models.ErrInvalidTransition
		}
		s.MessageSent = true
		if cb.MessageDelivered {
			s.MessageDelivered = true
		}
		if s.Status == models.StatusDemoSent {
			transitioned = true
			return s.Transition(models.StatusMessageSent, o.now())
		}
		return nil
	})
	if err != nil {
		return o.stale("HandleMessageCallback", id, updated, err)
	}
	if !transitioned {
		slog.Debug("Orchestrator.HandleMessageCallback: duplicate delivery report", "sessionID", id, "status", updated.Status)
		return updated, nil
	}

	slog.Info("Orchestrator.HandleMessageCallback: demo message sent", "sessionID", id)
	if err := o.timer.ScheduleAfter(id, o.completionDelay, func() { o.complete(id) }); err != nil {
		slog.Warn("Orchestrator.HandleMessageCallback: completion not scheduled", "sessionID", id, "error", err)
	}
	return updated, nil
}

// complete moves a session from message_sent to completed if it is still there.
func (o *Orchestrator) complete(id string) {
	_, err := o.sessions.Update(id, func(s *models.Session) error {
		if s.Status != models.StatusMessageSent {
			return models.ErrInvalidTransition
		}
		now := o.now()
		if err := s.Transition(models.StatusCompleted, now); err != nil {
			return err
		}
		s.CompletedAt = &now
		return nil
	})
	if err != nil {
		slog.Debug("Orchestrator.complete: session not completed", "sessionID", id, "error", err)
		return
	}
	slog.Info("Orchestrator.complete: demo completed", "sessionID", id)
}

// Status returns a snapshot of the session. A session in demo_sent first has its
// delivery flags refreshed from the platform; refresh failures are only logged.
func (o *Orchestrator) Status(ctx context.Context, id string) (*models.Session, error) {
	sess, err := o.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusDemoSent || sess.DemoImsID == "" {
		return sess, nil
	}

	imsID := sess.DemoImsID
	res, err := o.gateway.Info(ctx, imsID)
	if err == nil && res == nil {
		err = errors.New("empty info response")
	}
	if err == nil {
		err = checkResult("info", res.ResultCd, res.ResultMsg)
	}
	if err != nil {
		slog.Warn("Orchestrator.Status: info query failed", "sessionID", id, "imsID", imsID, "error", err)
		return sess, nil
	}
	delivery, ok := res.Delivery()
	if !ok {
		return sess, nil
	}

	updated, err := o.sessions.Update(id, func(s *models.Session) error {
		if s.DemoImsID != imsID {
			return models.ErrInvalidTransition
		}
		s.MessageInfo = res.ImsData
		if delivery.MessageSent {
			s.MessageSent = true
		}
		if delivery.MessageDelivered {
			s.MessageDelivered = true
		}
		return nil
	})
	if err != nil {
		slog.Debug("Orchestrator.Status: delivery flags not applied", "sessionID", id, "error", err)
		return sess, nil
	}
	return updated, nil
}

// HandleInboundMessage logs a mobile-originated message. It reports whether the text
// asked for help.
func (o *Orchestrator) HandleInboundMessage(ctx context.Context, msg models.InboundMessage) bool {
	slog.Info("Orchestrator.HandleInboundMessage: message received",
		"phone", msg.PhoneNumber,
		"imsAgentID", msg.ImsAgentID,
		"imsID", msg.ImsID,
		"receivedDttm", msg.ReceivedDttm,
		"message", msg.Message)
	if strings.Contains(strings.ToLower(msg.Message), "help") {
		slog.Info("Orchestrator.HandleInboundMessage: help request detected", "phone", msg.PhoneNumber)
		return true
	}
	return false
}

// Session returns a snapshot of the session without querying the platform.
func (o *Orchestrator) Session(id string) (*models.Session, error) {
	return o.sessions.Get(id)
}

// ActiveSessions returns the number of tracked sessions.
func (o *Orchestrator) ActiveSessions() int {
	return o.sessions.Count()
}

// Forget cancels pending completions for sessions that were removed from the store.
func (o *Orchestrator) Forget(ids []string) {
	for _, id := range ids {
		if o.timer.Cancel(id) {
			slog.Debug("Orchestrator.Forget: cancelled pending completion", "sessionID", id)
		}
	}
}

// Close cancels every pending completion.
func (o *Orchestrator) Close() {
	o.timer.Stop()
}

func (o *Orchestrator) callback(path string) string {
	return o.callbackURL + path
}

// fail moves the session to error and returns the latest snapshot.
func (o *Orchestrator) fail(id, reason string) *models.Session {
	sess, err := o.sessions.Update(id, func(s *models.Session) error {
		if !s.Fail(reason, o.now()) {
			return models.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		slog.Warn("Orchestrator.fail: session not moved to error", "sessionID", id, "reason", reason, "error", err)
		return sess
	}
	slog.Warn("Orchestrator.fail: session failed", "sessionID", id, "reason", reason)
	return sess
}

// stale turns a lost race into a no-op. A session removed meanwhile is still not found.
func (o *Orchestrator) stale(op, id string, current *models.Session, err error) (*models.Session, error) {
	if errors.Is(err, models.ErrInvalidTransition) {
		slog.Info("Orchestrator."+op+": ignoring stale callback", "sessionID", id, "status", current.Status)
		return current, nil
	}
	return nil, err
}

// snapshot re-reads the session after a gateway call, falling back to prev when the
// session was removed meanwhile.
func (o *Orchestrator) snapshot(id string, prev *models.Session) *models.Session {
	sess, err := o.sessions.Get(id)
	if err != nil {
		return prev
	}
	return sess
}

func checkResult(op, code, msg string) error {
	if code == imsms.ResultCodeSuccess {
		return nil
	}
	return &imsms.ResultError{Op: op, Code: code, Message: msg}
}

func sendError(res *imsms.SendResult, err error) error {
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("empty send response")
	}
	return checkResult("send", res.ResultCd, res.ResultMsg)
}
