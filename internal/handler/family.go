package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nwbull/heritage/internal/auth"
	"github.com/nwbull/heritage/internal/config"
	"github.com/nwbull/heritage/internal/email"
	"github.com/nwbull/heritage/internal/middleware"
	"github.com/nwbull/heritage/internal/model"
	"github.com/nwbull/heritage/internal/store"
	"github.com/nwbull/heritage/internal/token"
)

// Mailer is the outbound mail surface the family handler needs. Sends
// are best-effort; a failed send never fails the request.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, family, invitationCode, magicLink, description string) email.Result
	SendVerification(ctx context.Context, to, family, verifyLink string) email.Result
}

type FamilyHandler struct {
	cfg         config.Config
	users       *store.UserStore
	grants      *store.GrantStore
	invitations *store.InvitationStore
	consents    *store.ConsentStore
	issuer      *token.Issuer
	mailer      Mailer
	logger      *slog.Logger
}

func NewFamilyHandler(cfg config.Config, users *store.UserStore, grants *store.GrantStore, invitations *store.InvitationStore, consents *store.ConsentStore, issuer *token.Issuer, mailer Mailer, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{
		cfg:         cfg,
		users:       users,
		grants:      grants,
		invitations: invitations,
		consents:    consents,
		issuer:      issuer,
		mailer:      mailer,
		logger:      logger,
	}
}

// CreateFamily makes the caller the first member of a new family branch:
// it grants access, mints a shareable invitation code, and optionally
// emails a magic sign-in link to one invitee.
func (h *FamilyHandler) CreateFamily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	var req struct {
		FamilyName  string `json:"family_name"`
		Description string `json:"description"`
		InviteEmail string `json:"invite_email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	familyName := strings.ToLower(strings.TrimSpace(req.FamilyName))
	if len(familyName) < 2 {
		respondError(w, http.StatusBadRequest, "family name must be at least 2 characters")
		return
	}

	if _, err := h.grants.Grant(ctx, ac.UserID, familyName, model.GrantMethodFamilyCreator); err != nil {
		h.logger.Error("creator grant", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code, err := h.invitations.Create(ctx, familyName, ac.UserID, nil, nil, req.Description)
	if err != nil {
		h.logger.Error("create invitation", "error", err, "family", familyName)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The creator always gets the magic link and code by mail; a second
	// copy can go to one invitee.
	emailSent := h.sendInvite(ctx, ac.Email, familyName, code)
	if invitee := strings.ToLower(strings.TrimSpace(req.InviteEmail)); invitee != "" && !strings.EqualFold(invitee, ac.Email) {
		h.sendInvite(ctx, invitee, familyName, code)
	}

	families, err := h.refreshSession(ctx, w, ac.UserID)
	if err != nil {
		h.logger.Error("refresh session", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"family_name":     familyName,
		"invitation_code": code.Code,
		"families":        families,
		"email_sent":      emailSent,
	})
}

// sendInvite mails a magic link plus the invitation code. The invitee
// may not have an account yet, so the link token carries no user id.
func (h *FamilyHandler) sendInvite(ctx context.Context, invitee, familyName string, code *model.InvitationCode) bool {
	linkToken, err := h.issuer.IssueLink(invitee, familyName, nil, token.PurposeEmailVerification, 0)
	if err != nil {
		h.logger.Error("issue invite link", "error", err, "family", familyName)
		return false
	}
	magicLink := h.cfg.BaseURL + "/magic/" + linkToken

	res := h.mailer.SendMagicLink(ctx, invitee, familyName, code.Code, magicLink, code.Description)
	if !res.Success {
		h.logger.Error("send invite email", "error", res.Err, "family", familyName)
		return false
	}
	h.logger.Info("invite email sent", "family", familyName, "message_id", res.MessageID)
	return true
}

// RequestAccess mails the caller a verification link for one of the
// configured family sites. Clicking the link grants access; access is
// never granted from the request alone.
func (h *FamilyHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	var req struct {
		FamilyName string `json:"family_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	familyName := strings.ToLower(strings.TrimSpace(req.FamilyName))
	if !h.cfg.ValidFamily(familyName) {
		respondError(w, http.StatusNotFound, "unknown family")
		return
	}

	userID := ac.UserID
	linkToken, err := h.issuer.IssueLink(ac.Email, familyName, &userID, token.PurposeEmailVerification, 0)
	if err != nil {
		h.logger.Error("issue verification link", "error", err, "user_id", userID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	verifyLink := h.cfg.BaseURL + "/verify/" + linkToken

	res := h.mailer.SendVerification(ctx, ac.Email, familyName, verifyLink)
	if !res.Success {
		h.logger.Error("send verification email", "error", res.Err, "family", familyName)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"family_name": familyName,
		"email_sent":  res.Success,
	})
}

// JoinFamily redeems an invitation code for the caller.
func (h *FamilyHandler) JoinFamily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	codeVal := strings.TrimSpace(req.Code)
	if codeVal == "" {
		respondError(w, http.StatusBadRequest, "invitation code required")
		return
	}

	redeemed, err := h.invitations.Redeem(ctx, codeVal, ac.UserID)
	if err != nil {
		// All redemption failures look the same to the caller; the reason
		// is not leaked to whoever is guessing codes.
		if errors.Is(err, store.ErrCodeInvalid) || errors.Is(err, store.ErrCodeExpired) || errors.Is(err, store.ErrCodeExhausted) {
			respondError(w, http.StatusBadRequest, "invalid or expired invitation code")
			return
		}
		h.logger.Error("redeem invitation", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	families, err := h.refreshSession(ctx, w, ac.UserID)
	if err != nil {
		h.logger.Error("refresh session", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A successful join also hands back a fresh magic link for the joined
	// family, usable from another device.
	userID := ac.UserID
	linkToken, err := h.issuer.IssueLink(ac.Email, redeemed.FamilyName, &userID, token.PurposeEmailVerification, 0)
	if err != nil {
		h.logger.Error("issue magic link", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"family_name": redeemed.FamilyName,
		"families":    families,
		"magic_link":  h.cfg.BaseURL + "/magic/" + linkToken,
	})
}

// Me returns the caller's profile and current family set. The family set
// comes from the store, not the session snapshot, so it reflects grants
// made after the token was issued.
func (h *FamilyHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	user, err := h.users.GetByID(ctx, ac.UserID)
	if err != nil {
		h.logger.Error("get user", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || !user.IsActive {
		respondError(w, http.StatusUnauthorized, "account not found")
		return
	}

	families, err := h.grants.ListFamilies(ctx, ac.UserID)
	if err != nil {
		h.logger.Error("list families", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"families": families,
	})
}

// Consent records a consent decision for one family site. Only families
// on the configured allow-list accept consent; member-created branches
// have no marketing program.
func (h *FamilyHandler) Consent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := auth.FromContext(ctx)

	familyName := strings.ToLower(r.PathValue("family"))
	if !h.cfg.ValidFamily(familyName) {
		respondError(w, http.StatusNotFound, "unknown family")
		return
	}

	var req struct {
		MarketingConsent bool   `json:"marketing_consent"`
		TermsAccepted    bool   `json:"terms_accepted"`
		ConsentVersion   string `json:"consent_version"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.consents.Record(ctx, model.ConsentRecord{
		UserID:           ac.UserID,
		FamilyName:       familyName,
		MarketingConsent: req.MarketingConsent,
		TermsAccepted:    req.TermsAccepted,
		ConsentVersion:   req.ConsentVersion,
		IPAddress:        middleware.RealIP(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("record consent", "error", err, "user_id", ac.UserID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

// ListFamilies returns the configured family sites with their display
// metadata. Public; the frontend renders the signup picker from it.
func (h *FamilyHandler) ListFamilies(w http.ResponseWriter, r *http.Request) {
	type familyInfo struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	out := make([]familyInfo, 0, len(h.cfg.Families))
	for _, name := range h.cfg.Families {
		out = append(out, familyInfo{
			Name:        name,
			DisplayName: email.FamilyInfo(name).DisplayName,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"families": out})
}

// refreshSession reissues the auth cookie over the caller's current
// family set and returns that set.
func (h *FamilyHandler) refreshSession(ctx context.Context, w http.ResponseWriter, userID int64) ([]string, error) {
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, store.ErrNotFound
	}
	families, err := h.grants.ListFamilies(ctx, userID)
	if err != nil {
		return nil, err
	}

	signed, err := h.issuer.IssueSession(user.ID, user.Email, families, 0)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "Bearer " + signed,
		Path:     "/",
		MaxAge:   int(token.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return families, nil
}
