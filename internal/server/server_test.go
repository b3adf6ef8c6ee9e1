package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/nwbull/heritage/internal/config"
	"github.com/nwbull/heritage/internal/database"
	"github.com/nwbull/heritage/internal/email"
	"github.com/nwbull/heritage/internal/identity"
	"github.com/nwbull/heritage/internal/middleware"
	"github.com/nwbull/heritage/internal/token"
)

// fakeExchanger stands in for Google. Exchange succeeds for any code and
// returns the configured identity.
type fakeExchanger struct {
	ident identity.Identity
	err   error
}

func (f *fakeExchanger) AuthorizationURL(state string) string {
	return "https://auth.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (identity.Identity, error) {
	if f.err != nil {
		return identity.Identity{}, f.err
	}
	return f.ident, nil
}

type sentMail struct {
	to, family, code, link string
}

type fakeMailer struct {
	sent []sentMail
	fail bool
}

func (f *fakeMailer) SendMagicLink(ctx context.Context, to, family, invitationCode, magicLink, description string) email.Result {
	f.sent = append(f.sent, sentMail{to: to, family: family, code: invitationCode, link: magicLink})
	if f.fail {
		return email.Result{Err: fmt.Errorf("send rejected")}
	}
	return email.Result{Success: true, MessageID: "msg-1"}
}

func (f *fakeMailer) SendVerification(ctx context.Context, to, family, verifyLink string) email.Result {
	f.sent = append(f.sent, sentMail{to: to, family: family, link: verifyLink})
	if f.fail {
		return email.Result{Err: fmt.Errorf("send rejected")}
	}
	return email.Result{Success: true, MessageID: "msg-1"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		Port:        "8080",
		BaseURL:     "https://api.example.com",
		FrontendURL: "https://family.example.com",
		Families:    []string{"bull", "north", "klingenberg", "herrman"},
		JWTSecret:   "test-secret",
		AdminToken:  "admin-token",
	}
}

func newTestServer(t *testing.T, exchanger *fakeExchanger, mailer *fakeMailer) (*Server, http.Handler) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	srv := New(db, testConfig(), exchanger, mailer, logger)
	return srv, srv.Router()
}

// signUp walks the OAuth flow for the given identity and returns the
// session cookie.
func signUp(t *testing.T, router http.Handler, exchanger *fakeExchanger, ident identity.Identity) *http.Cookie {
	t.Helper()
	exchanger.ident = ident

	body := strings.NewReader(fmt.Sprintf(`{"email":%q}`, ident.Email))
	req := httptest.NewRequest("POST", "/signup/start", body)
	req.RemoteAddr = ident.Subject + ":1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signup start: status = %d, body %s", rec.Code, rec.Body)
	}
	var start struct {
		AuthURL string `json:"auth_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &start); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	u, err := url.Parse(start.AuthURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatal("auth url missing state")
	}

	req = httptest.NewRequest("GET", "/oauth/callback?code=fake-code&state="+url.QueryEscape(state), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback: status = %d, body %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); strings.Contains(loc, "/error") {
		t.Fatalf("callback redirected to error: %s", loc)
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func aliceIdent() identity.Identity {
	return identity.Identity{
		Subject:       "google-alice",
		Email:         "alice@example.com",
		Name:          "Alice Example",
		EmailVerified: true,
	}
}

func TestSignupFlowNewUser(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	exchanger.ident = aliceIdent()

	body := strings.NewReader(`{"email":"alice@example.com"}`)
	req := httptest.NewRequest("POST", "/signup/start", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d", rec.Code)
	}

	cookie := signUp(t, router, exchanger, aliceIdent())
	if !strings.HasPrefix(cookie.Value, "Bearer ") {
		t.Errorf("cookie value = %q, want Bearer prefix", cookie.Value)
	}

	// A brand-new user has no families and lands on the picker.
	req = httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status = %d, body %s", rec.Code, rec.Body)
	}
	var me struct {
		Families []string `json:"families"`
		User     struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.User.Email != "alice@example.com" {
		t.Errorf("email = %q", me.User.Email)
	}
	if len(me.Families) != 0 {
		t.Errorf("families = %v, want empty", me.Families)
	}
}

func TestSignupCallbackEmailMismatch(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	// Start the flow as alice but come back from Google as mallory.
	req := httptest.NewRequest("POST", "/signup/start", strings.NewReader(`{"email":"alice@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var start struct {
		AuthURL string `json:"auth_url"`
	}
	json.Unmarshal(rec.Body.Bytes(), &start)
	u, _ := url.Parse(start.AuthURL)
	state := u.Query().Get("state")

	exchanger.ident = identity.Identity{
		Subject:       "google-mallory",
		Email:         "mallory@example.com",
		EmailVerified: true,
	}
	req = httptest.NewRequest("GET", "/oauth/callback?code=x&state="+url.QueryEscape(state), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "/error") {
		t.Errorf("expected error redirect, got %s", loc)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no session cookie should be set on mismatch")
	}
}

func TestCreateFamilyAndJoin(t *testing.T) {
	exchanger := &fakeExchanger{}
	mailer := &fakeMailer{}
	_, router := newTestServer(t, exchanger, mailer)

	alice := signUp(t, router, exchanger, aliceIdent())

	body := strings.NewReader(`{"family_name":" Smith ","description":"reunion","invite_email":"bob@example.com"}`)
	req := httptest.NewRequest("POST", "/signup/create-family", body)
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create family: status = %d, body %s", rec.Code, rec.Body)
	}

	var created struct {
		FamilyName     string   `json:"family_name"`
		InvitationCode string   `json:"invitation_code"`
		Families       []string `json:"families"`
		EmailSent      bool     `json:"email_sent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.FamilyName != "smith" {
		t.Errorf("family = %q, want smith", created.FamilyName)
	}
	if ok, _ := regexp.MatchString(`^smith[A-Z0-9]{8}$`, created.InvitationCode); !ok {
		t.Errorf("code = %q", created.InvitationCode)
	}
	if len(created.Families) != 1 || created.Families[0] != "smith" {
		t.Errorf("families = %v, want [smith]", created.Families)
	}
	if !created.EmailSent {
		t.Error("expected creator email sent")
	}
	// The creator gets a copy first, the invitee second.
	if len(mailer.sent) != 2 {
		t.Fatalf("mailer.sent = %+v, want 2 sends", mailer.sent)
	}
	if mailer.sent[0].to != "alice@example.com" || mailer.sent[1].to != "bob@example.com" {
		t.Errorf("recipients = %q, %q", mailer.sent[0].to, mailer.sent[1].to)
	}
	for _, m := range mailer.sent {
		if !strings.HasPrefix(m.link, "https://api.example.com/magic/") {
			t.Errorf("magic link = %q", m.link)
		}
	}

	// Bob signs in and joins with the code.
	bob := signUp(t, router, exchanger, identity.Identity{
		Subject:       "google-bob",
		Email:         "bob@example.com",
		EmailVerified: true,
	})

	body = strings.NewReader(fmt.Sprintf(`{"code":%q}`, created.InvitationCode))
	req = httptest.NewRequest("POST", "/signup/join-family", body)
	req.AddCookie(bob)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("join: status = %d, body %s", rec.Code, rec.Body)
	}
	var joined struct {
		FamilyName string   `json:"family_name"`
		Families   []string `json:"families"`
		MagicLink  string   `json:"magic_link"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &joined); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if joined.FamilyName != "smith" {
		t.Errorf("joined family = %q", joined.FamilyName)
	}
	if !strings.HasPrefix(joined.MagicLink, "https://api.example.com/magic/") {
		t.Fatalf("magic link = %q", joined.MagicLink)
	}

	// The returned magic link signs bob in on another device.
	req = httptest.NewRequest("GET", strings.TrimPrefix(joined.MagicLink, "https://api.example.com"), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("magic link follow: status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://family.example.com/families/smith" {
		t.Errorf("magic link redirect = %q", loc)
	}
}

func TestCreateFamilySendsCreatorEmail(t *testing.T) {
	exchanger := &fakeExchanger{}
	mailer := &fakeMailer{}
	_, router := newTestServer(t, exchanger, mailer)
	alice := signUp(t, router, exchanger, aliceIdent())

	// No invite_email: the creator still gets the magic link and code.
	body := strings.NewReader(`{"family_name":"smith"}`)
	req := httptest.NewRequest("POST", "/signup/create-family", body)
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		EmailSent bool `json:"email_sent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.EmailSent {
		t.Error("expected email_sent true")
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "alice@example.com" {
		t.Errorf("mailer.sent = %+v, want one send to the creator", mailer.sent)
	}
}

func TestCreateFamilyMailFailureIsSoft(t *testing.T) {
	exchanger := &fakeExchanger{}
	mailer := &fakeMailer{fail: true}
	_, router := newTestServer(t, exchanger, mailer)
	alice := signUp(t, router, exchanger, aliceIdent())

	body := strings.NewReader(`{"family_name":"smith","invite_email":"bob@example.com"}`)
	req := httptest.NewRequest("POST", "/signup/create-family", body)
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The family is still created; only the email flag reports failure.
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		EmailSent bool `json:"email_sent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.EmailSent {
		t.Error("email_sent should be false when the send fails")
	}
}

func TestJoinFamilyBadCode(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	alice := signUp(t, router, exchanger, aliceIdent())

	req := httptest.NewRequest("POST", "/signup/join-family", strings.NewReader(`{"code":"smithNOSUCH1"}`))
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "invalid or expired invitation code") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestMagicLoginUnknownUserSoftFails(t *testing.T) {
	exchanger := &fakeExchanger{}
	srv, router := newTestServer(t, exchanger, &fakeMailer{})

	linkToken, err := srv.issuer.IssueLink("ghost@example.com", "bull", nil, token.PurposeEmailVerification, 0)
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}

	req := httptest.NewRequest("GET", "/magic/"+linkToken, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "/error") {
		t.Errorf("expected error redirect, got %s", loc)
	}
}

func TestMagicLoginGrantsFamily(t *testing.T) {
	exchanger := &fakeExchanger{}
	srv, router := newTestServer(t, exchanger, &fakeMailer{})
	signUp(t, router, exchanger, aliceIdent())

	linkToken, err := srv.issuer.IssueLink("alice@example.com", "north", nil, token.PurposeEmailVerification, 0)
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}

	req := httptest.NewRequest("GET", "/magic/"+linkToken, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if loc != "https://family.example.com/families/north" {
		t.Errorf("redirect = %q", loc)
	}

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie")
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var me struct {
		Families []string `json:"families"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if len(me.Families) != 1 || me.Families[0] != "north" {
		t.Errorf("families = %v, want [north]", me.Families)
	}
}

func TestMagicLoginExpired(t *testing.T) {
	exchanger := &fakeExchanger{}
	srv, router := newTestServer(t, exchanger, &fakeMailer{})
	signUp(t, router, exchanger, aliceIdent())

	// A negative ttl mints a correctly signed token whose expiry is
	// already in the past.
	linkToken, err := srv.issuer.IssueLink("alice@example.com", "north", nil, token.PurposeEmailVerification, -time.Minute)
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}

	req := httptest.NewRequest("GET", "/magic/"+linkToken, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "/error") {
		t.Errorf("expected error redirect, got %s", loc)
	}
}

func TestVerifyEmailGrants(t *testing.T) {
	exchanger := &fakeExchanger{}
	srv, router := newTestServer(t, exchanger, &fakeMailer{})
	signUp(t, router, exchanger, aliceIdent())

	linkToken, err := srv.issuer.IssueLink("alice@example.com", "bull", nil, token.PurposeEmailVerification, 0)
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}

	req := httptest.NewRequest("GET", "/verify/"+linkToken, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "https://family.example.com/families/bull" {
		t.Errorf("redirect = %q", loc)
	}
}

func TestRequestAccessAndVerify(t *testing.T) {
	exchanger := &fakeExchanger{}
	mailer := &fakeMailer{}
	_, router := newTestServer(t, exchanger, mailer)
	alice := signUp(t, router, exchanger, aliceIdent())

	req := httptest.NewRequest("POST", "/signup/request-access", strings.NewReader(`{"family_name":"north"}`))
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("request access: status = %d, body %s", rec.Code, rec.Body)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "alice@example.com" {
		t.Fatalf("mailer.sent = %+v", mailer.sent)
	}
	link := mailer.sent[0].link
	if !strings.HasPrefix(link, "https://api.example.com/verify/") {
		t.Fatalf("verify link = %q", link)
	}

	// Follow the emailed link path against the router.
	req = httptest.NewRequest("GET", strings.TrimPrefix(link, "https://api.example.com"), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("verify: status = %d, body %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "https://family.example.com/families/north" {
		t.Errorf("redirect = %q", loc)
	}
}

func TestRequestAccessUnknownFamily(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	alice := signUp(t, router, exchanger, aliceIdent())

	req := httptest.NewRequest("POST", "/signup/request-access", strings.NewReader(`{"family_name":"smith"}`))
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestVerifyEmailBadToken(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	req := httptest.NewRequest("GET", "/verify/not-a-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConsentFlow(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	alice := signUp(t, router, exchanger, aliceIdent())

	body := strings.NewReader(`{"marketing_consent":true,"terms_accepted":true}`)
	req := httptest.NewRequest("POST", "/consent/bull", body)
	req.AddCookie(alice)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "test-agent/1.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var consent struct {
		FamilyName       string `json:"family_name"`
		MarketingConsent bool   `json:"marketing_consent"`
		IPAddress        string `json:"ip_address"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &consent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consent.FamilyName != "bull" || !consent.MarketingConsent {
		t.Errorf("consent = %+v", consent)
	}
	if consent.IPAddress != "203.0.113.9" {
		t.Errorf("ip = %q", consent.IPAddress)
	}
}

func TestConsentUnknownFamily(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	alice := signUp(t, router, exchanger, aliceIdent())

	req := httptest.NewRequest("POST", "/consent/smith", strings.NewReader(`{"terms_accepted":true}`))
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminExport(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})
	alice := signUp(t, router, exchanger, aliceIdent())

	body := strings.NewReader(`{"marketing_consent":true,"terms_accepted":true}`)
	req := httptest.NewRequest("POST", "/consent/bull", body)
	req.AddCookie(alice)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("consent: status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/admin/emails/bull.csv", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("export: status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, body %s", len(lines), rec.Body)
	}
	if lines[0] != "email,name,consented_at" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "alice@example.com,") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestAdminExportQueryToken(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	req := httptest.NewRequest("GET", "/admin/emails/bull.csv?admin_token=admin-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAdminExportBadToken(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	req := httptest.NewRequest("GET", "/admin/emails/bull.csv", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	for _, route := range []struct{ method, path string }{
		{"POST", "/signup/create-family"},
		{"POST", "/signup/join-family"},
		{"GET", "/me"},
		{"POST", "/consent/bull"},
	} {
		req := httptest.NewRequest(route.method, route.path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", route.method, route.path, rec.Code)
		}
	}
}

func TestListFamiliesPublic(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	req := httptest.NewRequest("GET", "/families", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Families []struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		} `json:"families"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Families) != 4 {
		t.Fatalf("families = %d, want 4", len(resp.Families))
	}
	if resp.Families[0].Name != "bull" || resp.Families[0].DisplayName != "Bull Family" {
		t.Errorf("first family = %+v", resp.Families[0])
	}
}

func TestHealth(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("root: status = %d", rec.Code)
	}
}

func TestSignupStartRateLimited(t *testing.T) {
	exchanger := &fakeExchanger{}
	_, router := newTestServer(t, exchanger, &fakeMailer{})

	var last int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("POST", "/signup/start", strings.NewReader(`{"email":"a@x.com"}`))
		req.RemoteAddr = "198.51.100.1:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request: status = %d, want 429", last)
	}
}
