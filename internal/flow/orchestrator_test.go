package flow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teamplayer/imsms-demo/internal/imsms"
	"github.com/teamplayer/imsms-demo/internal/models"
	"github.com/teamplayer/imsms-demo/internal/store"
)

const (
	testCallbackURL = "https://demo.example.com/"
	testPhone       = "+821012345678"
)

type testEnv struct {
	orch     *Orchestrator
	gateway  *imsms.MockClient
	sessions *store.SessionStore
	ledger   *store.FileLedger
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	gw := imsms.NewMockClient()
	sessions := store.NewSessionStore()
	ledger, err := store.NewFileLedger(store.WithFilePath(filepath.Join(t.TempDir(), store.DefaultLedgerFileName)))
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	var mu sync.Mutex
	seq := 0
	base := []Option{
		WithCallbackURL(testCallbackURL),
		WithLedger(ledger),
		WithCompletionDelay(20 * time.Millisecond),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("session-%d", seq)
		}),
	}
	orch, err := NewOrchestrator(gw, sessions, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	return &testEnv{orch: orch, gateway: gw, sessions: sessions, ledger: ledger}
}

func (e *testEnv) start(t *testing.T, raw string) *models.Session {
	t.Helper()
	sess, err := e.orch.Start(context.Background(), raw)
	if err != nil {
		t.Fatalf("Start(%q) failed: %v", raw, err)
	}
	return sess
}

func (e *testEnv) lookup(t *testing.T, phoneNumber string, compatible bool) *models.Session {
	t.Helper()
	sess, err := e.orch.HandleLookupCallback(context.Background(), models.LookupCallback{
		PhoneNumber:  phoneNumber,
		RequestID:    "req-cb",
		ResultCd:     imsms.ResultCodeSuccess,
		IsCompatible: compatible,
		RequestDttm:  "20250101120000",
		FinishDttm:   "20250101120005",
	})
	if err != nil {
		t.Fatalf("HandleLookupCallback failed: %v", err)
	}
	return sess
}

func (e *testEnv) consent(t *testing.T, phoneNumber string, process models.ConsentProcess, granted bool) *models.Session {
	t.Helper()
	sess, err := e.orch.HandleConsentCallback(context.Background(), models.ConsentCallback{
		ImsAgentID:              imsms.DefaultAgentID,
		ConsentRecipient:        phoneNumber,
		ConsentProcess:          process,
		ConsentStatus:           granted,
		ConsentRequestDttm:      "20250101120010",
		ConsentStatusUpdateDttm: "20250101120020",
	})
	if err != nil {
		t.Fatalf("HandleConsentCallback failed: %v", err)
	}
	return sess
}

// demoSent drives a new session up to demo_sent.
func (e *testEnv) demoSent(t *testing.T) *models.Session {
	t.Helper()
	sess := e.start(t, "010-1234-5678")
	e.lookup(t, sess.PhoneNumber, true)
	got := e.consent(t, sess.PhoneNumber, models.ConsentProcessCompleted, true)
	if got.Status != models.StatusDemoSent {
		t.Fatalf("expected demo_sent, got %s (%s)", got.Status, got.Error)
	}
	return got
}

func waitForStatus(t *testing.T, sessions *store.SessionStore, id string, want models.SessionStatus) *models.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := sessions.Get(id)
		if err == nil && sess.Status == want {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, _ := sessions.Get(id)
	t.Fatalf("session %s did not reach %s, last seen %+v", id, want, sess)
	return nil
}

func TestNewOrchestratorRequiresCallbackURL(t *testing.T) {
	t.Setenv("CALLBACK_URL", "")
	if _, err := NewOrchestrator(imsms.NewMockClient(), store.NewSessionStore()); err == nil {
		t.Fatal("expected error without callback URL")
	}
	t.Setenv("CALLBACK_URL", "https://env.example.com")
	o, err := NewOrchestrator(imsms.NewMockClient(), store.NewSessionStore())
	if err != nil {
		t.Fatalf("expected env fallback, got %v", err)
	}
	defer o.Close()
	if o.callback(LookupCallbackPath) != "https://env.example.com/api/callback/lookup" {
		t.Errorf("unexpected callback address %s", o.callback(LookupCallbackPath))
	}
	if _, err := NewOrchestrator(nil, store.NewSessionStore()); err == nil {
		t.Error("expected error without gateway")
	}
}

func TestStartNormalizesAndRequestsLookup(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")

	if sess.PhoneNumber != testPhone {
		t.Errorf("expected %s, got %s", testPhone, sess.PhoneNumber)
	}
	if sess.Status != models.StatusLookup {
		t.Errorf("expected lookup, got %s", sess.Status)
	}
	if sess.RequestID != "req-1" {
		t.Errorf("expected request id from lookup ack, got %q", sess.RequestID)
	}
	if len(env.gateway.LookupCalls) != 1 {
		t.Fatalf("expected one lookup, got %d", len(env.gateway.LookupCalls))
	}
	call := env.gateway.LookupCalls[0]
	if call.CallbackURL != "https://demo.example.com/api/callback/lookup" {
		t.Errorf("unexpected callback URL %s", call.CallbackURL)
	}
	if call.Metadata["sessionId"] != sess.SessionID {
		t.Errorf("expected session id metadata, got %v", call.Metadata)
	}
	if len(call.PhoneNumbers) != 1 || call.PhoneNumbers[0] != testPhone {
		t.Errorf("unexpected phone numbers %v", call.PhoneNumbers)
	}
}

func TestStartRejectsEmptyPhone(t *testing.T) {
	env := newTestEnv(t)
	for _, raw := range []string{"", "   "} {
		if _, err := env.orch.Start(context.Background(), raw); !errors.Is(err, models.ErrEmptyPhoneNumber) {
			t.Errorf("Start(%q): expected ErrEmptyPhoneNumber, got %v", raw, err)
		}
	}
	if env.sessions.Count() != 0 {
		t.Errorf("no session should be created, got %d", env.sessions.Count())
	}
	if len(env.gateway.LookupCalls) != 0 {
		t.Errorf("no lookup should be issued")
	}
}

func TestStartLookupFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.LookupFunc = func(imsms.LookupRequest) (*imsms.LookupResult, error) {
		return nil, errors.New("connection refused")
	}
	sess, err := env.orch.Start(context.Background(), "010-1234-5678")
	if err == nil {
		t.Fatal("expected error")
	}
	if sess == nil || sess.Status != models.StatusError || sess.Error != DiagLookupCall {
		t.Fatalf("expected errored session, got %+v", sess)
	}
	stored, _ := env.sessions.Get(sess.SessionID)
	if stored.Status != models.StatusError {
		t.Errorf("stored session not in error: %s", stored.Status)
	}
}

func TestStartLookupResultCodeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.LookupFunc = func(imsms.LookupRequest) (*imsms.LookupResult, error) {
		return &imsms.LookupResult{ResultCd: "100", ResultMsg: "invalid key"}, nil
	}
	sess, err := env.orch.Start(context.Background(), "010-1234-5678")
	var resErr *imsms.ResultError
	if !errors.As(err, &resErr) || resErr.Code != "100" {
		t.Fatalf("expected ResultError with code 100, got %v", err)
	}
	if sess.Status != models.StatusError {
		t.Errorf("expected error status, got %s", sess.Status)
	}
}

func TestLookupCallbackCompatibleRequestsConsent(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	got := env.lookup(t, sess.PhoneNumber, true)

	if got.Status != models.StatusConsentRequested {
		t.Fatalf("expected consent_requested, got %s (%s)", got.Status, got.Error)
	}
	if got.IsCompatible == nil || !*got.IsCompatible {
		t.Error("expected isCompatible true")
	}
	if got.RequestID != "req-cb" || got.LookupFinishDttm != "20250101120005" {
		t.Errorf("lookup fields not recorded: %+v", got)
	}
	if got.ConsentImsID == "" || got.ConsentReqDttm != "20250101120000" {
		t.Errorf("consent ids not recorded: %+v", got)
	}

	send, ok := env.gateway.LastSend()
	if !ok {
		t.Fatal("expected consent send")
	}
	if send.ConsentCallbackURL != "https://demo.example.com/api/callback/consent" || send.CallbackURL != "" {
		t.Errorf("unexpected callback addresses: %+v", send)
	}
	if send.Message != ConsentMessage || send.SendTo != testPhone {
		t.Errorf("unexpected consent message: %+v", send)
	}
	if send.SendType != imsms.SendTypeImmediate || send.ImsAgentID != imsms.DefaultAgentID {
		t.Errorf("unexpected send type or agent: %+v", send)
	}
}

func TestLookupCallbackNotCompatible(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	got := env.lookup(t, sess.PhoneNumber, false)

	if got.Status != models.StatusNotCompatible {
		t.Fatalf("expected not_compatible, got %s", got.Status)
	}
	if got.IsCompatible == nil || *got.IsCompatible {
		t.Error("expected isCompatible false")
	}
	if env.gateway.SendCount() != 0 {
		t.Errorf("no consent message should be sent, got %d", env.gateway.SendCount())
	}
}

func TestLookupCallbackFailureCode(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	got, err := env.orch.HandleLookupCallback(context.Background(), models.LookupCallback{
		PhoneNumber: sess.PhoneNumber,
		ResultCd:    "999",
	})
	if !errors.Is(err, ErrLookupRejected) {
		t.Fatalf("expected ErrLookupRejected, got %v", err)
	}
	if got.Status != models.StatusError || got.Error != "LookUp failed: 999" {
		t.Errorf("unexpected session %+v", got)
	}
	if env.gateway.SendCount() != 0 {
		t.Error("no consent message should be sent")
	}
}

func TestLookupCallbackUnknownOrDuplicate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.orch.HandleLookupCallback(context.Background(), models.LookupCallback{PhoneNumber: testPhone, ResultCd: "000"}); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sess := env.start(t, "010-1234-5678")
	env.lookup(t, sess.PhoneNumber, true)
	_, err := env.orch.HandleLookupCallback(context.Background(), models.LookupCallback{
		PhoneNumber: sess.PhoneNumber, ResultCd: "000", IsCompatible: true,
	})
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("duplicate callback should find no session in lookup, got %v", err)
	}
	if env.gateway.SendCount() != 1 {
		t.Errorf("expected exactly one consent send, got %d", env.gateway.SendCount())
	}
}

func TestLookupCallbackFirstMatchWins(t *testing.T) {
	env := newTestEnv(t)
	first := env.start(t, "010-1234-5678")
	second := env.start(t, "+82 10 1234 5678")

	got := env.lookup(t, testPhone, false)
	if got.SessionID != first.SessionID {
		t.Fatalf("expected oldest session %s, got %s", first.SessionID, got.SessionID)
	}
	got = env.lookup(t, testPhone, false)
	if got.SessionID != second.SessionID {
		t.Fatalf("expected second session %s, got %s", second.SessionID, got.SessionID)
	}
}

func TestLookupCallbackConsentSendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.SendFunc = func(imsms.SendRequest) (*imsms.SendResult, error) {
		return &imsms.SendResult{ResultCd: "110", ResultMsg: "invalid agent"}, nil
	}
	sess := env.start(t, "010-1234-5678")
	got := env.lookup(t, sess.PhoneNumber, true)

	if got.Status != models.StatusError {
		t.Fatalf("expected error, got %s", got.Status)
	}
	if got.Error != DiagConsentSend+": invalid agent" {
		t.Errorf("unexpected diagnostic %q", got.Error)
	}
}

func TestConsentCallbackGrantedSendsDemo(t *testing.T) {
	env := newTestEnv(t)
	got := env.demoSent(t)

	if got.ConsentProcess != models.ConsentProcessCompleted || got.ConsentStatus == nil || !*got.ConsentStatus {
		t.Errorf("consent fields not recorded: %+v", got)
	}
	if got.DemoImsID == "" || got.DemoImsID == got.ConsentImsID {
		t.Errorf("expected distinct demo ims id, got %+v", got)
	}

	records, err := env.ledger.List(context.Background())
	if err != nil {
		t.Fatalf("ledger list failed: %v", err)
	}
	if len(records) != 1 || records[0].PhoneNumber != testPhone {
		t.Errorf("expected ledger entry for %s, got %v", testPhone, records)
	}

	send, _ := env.gateway.LastSend()
	if send.Message != DemoMessage {
		t.Errorf("expected demo copy, got %q", send.Message)
	}
	if send.CallbackURL != "https://demo.example.com/api/callback/message" || send.ConsentCallbackURL != "" {
		t.Errorf("unexpected callback addresses: %+v", send)
	}
	if env.gateway.SendCount() != 2 {
		t.Errorf("expected consent and demo sends, got %d", env.gateway.SendCount())
	}
}

func TestConsentCallbackOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		process models.ConsentProcess
		granted bool
		want    models.SessionStatus
	}{
		{"pending", models.ConsentProcessPending, false, models.StatusConsentPending},
		{"declined", models.ConsentProcessCompleted, false, models.StatusConsentDeclined},
		{"timeout", models.ConsentProcessTimeout, false, models.StatusConsentTimeout},
		{"none", models.ConsentProcessNone, false, models.StatusConsentNone},
		{"unknown", models.ConsentProcess("revoked"), true, models.StatusConsentNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			sess := env.start(t, "010-1234-5678")
			env.lookup(t, sess.PhoneNumber, true)
			got := env.consent(t, sess.PhoneNumber, tt.process, tt.granted)
			if got.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Status)
			}
			if env.gateway.SendCount() != 1 {
				t.Errorf("no demo message expected, sends=%d", env.gateway.SendCount())
			}
			records, _ := env.ledger.List(context.Background())
			if len(records) != 0 {
				t.Errorf("ledger should stay empty, got %v", records)
			}
		})
	}
}

func TestConsentCallbackPendingThenGranted(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	env.lookup(t, sess.PhoneNumber, true)
	if got := env.consent(t, sess.PhoneNumber, models.ConsentProcessPending, false); got.Status != models.StatusConsentPending {
		t.Fatalf("expected consent_pending, got %s", got.Status)
	}
	if got := env.consent(t, sess.PhoneNumber, models.ConsentProcessPending, false); got.Status != models.StatusConsentPending {
		t.Fatalf("duplicate pending should be a no-op, got %s", got.Status)
	}
	if got := env.consent(t, sess.PhoneNumber, models.ConsentProcessCompleted, true); got.Status != models.StatusDemoSent {
		t.Fatalf("expected demo_sent, got %s", got.Status)
	}
}

func TestConsentCallbackDuplicateGrantSendsOnce(t *testing.T) {
	env := newTestEnv(t)
	first := env.demoSent(t)
	again := env.consent(t, first.PhoneNumber, models.ConsentProcessCompleted, true)

	if again.Status != models.StatusDemoSent {
		t.Errorf("status should not move backwards, got %s", again.Status)
	}
	if env.gateway.SendCount() != 2 {
		t.Errorf("expected no second demo send, sends=%d", env.gateway.SendCount())
	}
	late := env.consent(t, first.PhoneNumber, models.ConsentProcessTimeout, false)
	if late.Status != models.StatusDemoSent {
		t.Errorf("late timeout must be ignored, got %s", late.Status)
	}
}

func TestConsentCallbackBeforeSendAck(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")

	var calls int
	env.gateway.SendFunc = func(req imsms.SendRequest) (*imsms.SendResult, error) {
		calls++
		if calls == 1 {
			env.consent(t, req.SendTo, models.ConsentProcessPending, false)
		}
		return &imsms.SendResult{ResultCd: imsms.ResultCodeSuccess, ImsID: fmt.Sprintf("ims-%d", calls), ImsReqDttm: "20250101120001"}, nil
	}
	got := env.lookup(t, sess.PhoneNumber, true)

	if got.Status != models.StatusConsentPending {
		t.Errorf("late ack must not move the session back, got %s", got.Status)
	}
	if got.ConsentImsID != "ims-1" {
		t.Errorf("consent ims id should still be recorded, got %q", got.ConsentImsID)
	}
}

func TestConsentCallbackUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orch.HandleConsentCallback(context.Background(), models.ConsentCallback{ConsentRecipient: testPhone})
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDemoSendFailure(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	env.lookup(t, sess.PhoneNumber, true)
	env.gateway.SendFunc = func(imsms.SendRequest) (*imsms.SendResult, error) {
		return nil, &imsms.ResultError{Op: "send", Code: "130", Message: "recipient blocked"}
	}
	got := env.consent(t, sess.PhoneNumber, models.ConsentProcessCompleted, true)

	if got.Status != models.StatusError {
		t.Fatalf("expected error, got %s", got.Status)
	}
	if got.Error != DiagDemoSend+": recipient blocked" {
		t.Errorf("unexpected diagnostic %q", got.Error)
	}
	records, _ := env.ledger.List(context.Background())
	if len(records) != 1 {
		t.Errorf("consent should still be recorded, got %v", records)
	}
}

func TestMessageCallbackCompletes(t *testing.T) {
	env := newTestEnv(t)
	sess := env.demoSent(t)

	got, err := env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{
		ImsID: sess.DemoImsID, PhoneNumber: sess.PhoneNumber, MessageSent: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StatusMessageSent || !got.MessageSent {
		t.Fatalf("expected message_sent, got %+v", got)
	}

	done := waitForStatus(t, env.sessions, sess.SessionID, models.StatusCompleted)
	if done.CompletedAt == nil {
		t.Error("expected completedAt")
	}

	again, err := env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{ImsID: sess.DemoImsID, MessageSent: true})
	if err != nil || again.Status != models.StatusCompleted {
		t.Errorf("duplicate report should be a no-op, got %v %+v", err, again)
	}
}

func TestMessageCallbackIgnoredReports(t *testing.T) {
	env := newTestEnv(t)
	sess := env.demoSent(t)

	if _, err := env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{ImsID: "ims-unknown", MessageSent: true}); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	got, err := env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{ImsID: sess.ConsentImsID, MessageSent: true})
	if err != nil || got.Status != models.StatusDemoSent || got.MessageSent {
		t.Errorf("consent message report must not change the session: %v %+v", err, got)
	}

	got, err = env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{ImsID: sess.DemoImsID, MessageSent: false})
	if err != nil || got.Status != models.StatusDemoSent {
		t.Errorf("unsent report must not change the session: %v %+v", err, got)
	}
}

func TestCompletionSkippedForReapedSession(t *testing.T) {
	env := newTestEnv(t, WithCompletionDelay(50*time.Millisecond))
	sess := env.demoSent(t)
	if _, err := env.orch.HandleMessageCallback(context.Background(), models.MessageCallback{ImsID: sess.DemoImsID, MessageSent: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed := env.sessions.RemoveStale(time.Now().Add(time.Hour))
	env.orch.Forget(removed)
	if env.orch.timer.Pending(sess.SessionID) {
		t.Error("pending completion should be cancelled")
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := env.sessions.Get(sess.SessionID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("reaped session must stay gone, got %v", err)
	}
}

func TestCompletionRechecksStatus(t *testing.T) {
	env := newTestEnv(t)
	sess := env.demoSent(t)
	env.sessions.Update(sess.SessionID, func(s *models.Session) error {
		return s.Transition(models.StatusMessageSent, time.Now())
	})
	env.sessions.Update(sess.SessionID, func(s *models.Session) error {
		s.Fail("forced", time.Now())
		return nil
	})
	env.orch.complete(sess.SessionID)
	got, _ := env.sessions.Get(sess.SessionID)
	if got.Status != models.StatusError {
		t.Errorf("completion must not override error, got %s", got.Status)
	}
}

func TestStatusRefreshesDeliveryFlags(t *testing.T) {
	env := newTestEnv(t)
	sess := env.demoSent(t)
	env.gateway.InfoFunc = func(imsID string) (*imsms.InfoResult, error) {
		return &imsms.InfoResult{
			ResultCd: imsms.ResultCodeSuccess,
			ImsData:  []byte(fmt.Sprintf(`{"imsId":%q,"messageSent":true,"messageDelivered":true}`, imsID)),
		}, nil
	}

	got, err := env.orch.Status(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.MessageSent || !got.MessageDelivered {
		t.Errorf("expected delivery flags, got %+v", got)
	}
	if !strings.Contains(string(got.MessageInfo), sess.DemoImsID) {
		t.Errorf("expected messageInfo, got %s", got.MessageInfo)
	}
	if got.Status != models.StatusDemoSent {
		t.Errorf("status query must not transition, got %s", got.Status)
	}
	if env.gateway.InfoCount() != 1 || env.gateway.InfoCalls[0] != sess.DemoImsID {
		t.Errorf("unexpected info calls %v", env.gateway.InfoCalls)
	}
}

func TestStatusInfoFailureReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	sess := env.demoSent(t)
	env.gateway.InfoFunc = func(string) (*imsms.InfoResult, error) {
		return nil, errors.New("timeout")
	}
	got, err := env.orch.Status(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("info failure must be swallowed, got %v", err)
	}
	if got.MessageSent || got.MessageDelivered || got.MessageInfo != nil || !got.UpdatedAt.Equal(sess.UpdatedAt) {
		t.Errorf("snapshot should be unchanged, got %+v", got)
	}
}

func TestStatusOnlyQueriesInDemoSent(t *testing.T) {
	env := newTestEnv(t)
	sess := env.start(t, "010-1234-5678")
	got, err := env.orch.Status(context.Background(), sess.SessionID)
	if err != nil || got.Status != models.StatusLookup {
		t.Fatalf("unexpected status result %v %+v", err, got)
	}
	if env.gateway.InfoCount() != 0 {
		t.Errorf("no info query expected, got %d", env.gateway.InfoCount())
	}
	if _, err := env.orch.Status(context.Background(), "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHandleInboundMessage(t *testing.T) {
	env := newTestEnv(t)
	if !env.orch.HandleInboundMessage(context.Background(), models.InboundMessage{PhoneNumber: testPhone, Message: "Need HELP please"}) {
		t.Error("expected help request to be detected")
	}
	if env.orch.HandleInboundMessage(context.Background(), models.InboundMessage{PhoneNumber: testPhone, Message: "START"}) {
		t.Error("unexpected help detection")
	}
}

func TestErrorIsAbsorbing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.LookupFunc = func(imsms.LookupRequest) (*imsms.LookupResult, error) {
		return nil, errors.New("down")
	}
	sess, _ := env.orch.Start(context.Background(), "010-1234-5678")
	env.gateway.LookupFunc = nil

	if _, err := env.orch.HandleLookupCallback(context.Background(), models.LookupCallback{PhoneNumber: testPhone, ResultCd: "000", IsCompatible: true}); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("errored session must not match lookup callbacks, got %v", err)
	}
	got := env.consent(t, testPhone, models.ConsentProcessCompleted, true)
	if got.Status != models.StatusError {
		t.Errorf("error must be absorbing, got %s", got.Status)
	}
	if env.gateway.SendCount() != 0 {
		t.Errorf("no sends expected, got %d", env.gateway.SendCount())
	}
	stored, _ := env.sessions.Get(sess.SessionID)
	if stored.PhoneNumber != testPhone {
		t.Errorf("phone number changed to %s", stored.PhoneNumber)
	}
}

type stubText struct {
	body string
	err  error
}

func (s *stubText) GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.body, s.err
}

func TestDemoCopyFromGenerator(t *testing.T) {
	reg := NewRegistry()
	reg.Register(MessageDemo, NewDemoGenAIGenerator(&stubText{body: "Hi from the model"}))
	env := newTestEnv(t, WithGenerators(reg))
	env.demoSent(t)

	send, _ := env.gateway.LastSend()
	if send.Message != "Hi from the model" {
		t.Errorf("expected generated copy, got %q", send.Message)
	}
}
