package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nwbull/heritage/internal/identity"
	"github.com/nwbull/heritage/internal/middleware"
	"github.com/nwbull/heritage/internal/model"
	"github.com/nwbull/heritage/internal/store"
	"github.com/nwbull/heritage/internal/token"
)

// Exchanger is the identity provider surface the auth handler needs.
type Exchanger interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (identity.Identity, error)
}

type AuthHandler struct {
	users       *store.UserStore
	grants      *store.GrantStore
	exchanger   Exchanger
	issuer      *token.Issuer
	frontendURL string
	logger      *slog.Logger
}

func NewAuthHandler(users *store.UserStore, grants *store.GrantStore, exchanger Exchanger, issuer *token.Issuer, frontendURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:       users,
		grants:      grants,
		exchanger:   exchanger,
		issuer:      issuer,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// SignupStart begins the OAuth flow for an email address and returns the
// Google authorization URL for the frontend to redirect to.
func (h *AuthHandler) SignupStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		respondError(w, http.StatusBadRequest, "valid email required")
		return
	}

	fs, err := identity.NewSignupState(email)
	if err != nil {
		h.logger.Error("create flow state", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"auth_url": h.exchanger.AuthorizationURL(identity.EncodeState(fs)),
	})
}

// OAuthCallback completes the OAuth round trip: verify the state, trade
// the code for a verified identity, find or create the user, and issue a
// session.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.redirectError(w, r, "Sign-in was cancelled")
		return
	}

	fs, err := identity.DecodeState(r.URL.Query().Get("state"))
	if err != nil {
		h.logger.Warn("bad oauth state", "error", err)
		h.redirectError(w, r, "Invalid sign-in request")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectError(w, r, "Invalid sign-in request")
		return
	}

	ident, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oauth exchange", "error", err)
		h.redirectError(w, r, "Sign-in failed")
		return
	}
	if !ident.EmailVerified {
		h.redirectError(w, r, "Google account email is not verified")
		return
	}
	// The Google account must match the address the flow started with.
	if !strings.EqualFold(ident.Email, fs.Email) {
		h.logger.Warn("oauth email mismatch", "started_with", fs.Email, "google", ident.Email)
		h.redirectError(w, r, "Please sign in with the email address you started with")
		return
	}

	user, err := h.findOrCreateUser(ctx, ident)
	if err != nil {
		h.logger.Error("find or create user", "error", err)
		h.redirectError(w, r, "Sign-in failed")
		return
	}
	if !user.IsActive {
		h.redirectError(w, r, "This account has been deactivated")
		return
	}

	if err := h.users.MarkLogin(ctx, user.ID); err != nil {
		h.logger.Error("mark login", "error", err, "user_id", user.ID)
	}

	families, err := h.grants.ListFamilies(ctx, user.ID)
	if err != nil {
		h.logger.Error("list families", "error", err, "user_id", user.ID)
		h.redirectError(w, r, "Sign-in failed")
		return
	}

	if err := h.setSessionCookie(w, user, families); err != nil {
		h.logger.Error("issue session", "error", err, "user_id", user.ID)
		h.redirectError(w, r, "Sign-in failed")
		return
	}

	switch len(families) {
	case 0:
		http.Redirect(w, r, h.frontendURL+"/select-family", http.StatusFound)
	default:
		http.Redirect(w, r, h.frontendURL+"/families/"+url.PathEscape(families[0]), http.StatusFound)
	}
}

func (h *AuthHandler) findOrCreateUser(ctx context.Context, ident identity.Identity) (*model.User, error) {
	user, err := h.users.GetByGoogleID(ctx, ident.Subject)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	// An account created through another path may exist under the same
	// address without a Google subject yet.
	user, err = h.users.GetByEmail(ctx, ident.Email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	return h.users.Create(ctx, ident.Subject, ident.Email, ident.Name, ident.PictureURL)
}

// MagicLogin signs a user in from an emailed link. Failures redirect to
// the frontend error page rather than surfacing API errors, since the
// visitor arrived by clicking a link.
func (h *AuthHandler) MagicLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.issuer.VerifyLink(r.PathValue("token"), token.PurposeEmailVerification)
	if err != nil {
		h.logger.Warn("magic link rejected", "error", err)
		h.softFail(w, r)
		return
	}

	user, err := h.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		h.logger.Error("magic link user lookup", "error", err)
		h.softFail(w, r)
		return
	}
	if user == nil || !user.IsActive {
		h.softFail(w, r)
		return
	}

	if _, err := h.grants.Grant(ctx, user.ID, claims.FamilyName, model.GrantMethodMagicLink); err != nil {
		h.logger.Error("magic link grant", "error", err, "user_id", user.ID)
		h.softFail(w, r)
		return
	}
	if err := h.users.MarkLogin(ctx, user.ID); err != nil {
		h.logger.Error("mark login", "error", err, "user_id", user.ID)
	}

	families, err := h.grants.ListFamilies(ctx, user.ID)
	if err != nil {
		h.logger.Error("list families", "error", err, "user_id", user.ID)
		h.softFail(w, r)
		return
	}
	if err := h.setSessionCookie(w, user, families); err != nil {
		h.logger.Error("issue session", "error", err, "user_id", user.ID)
		h.softFail(w, r)
		return
	}

	http.Redirect(w, r, h.frontendURL+"/families/"+url.PathEscape(claims.FamilyName), http.StatusFound)
}

// VerifyEmail consumes an email-verification link and grants the family
// named in it.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.issuer.VerifyLink(r.PathValue("token"), token.PurposeEmailVerification)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid or expired verification link")
		return
	}

	user, err := h.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		h.logger.Error("verify email user lookup", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		respondError(w, http.StatusBadRequest, "no account for this email; sign in with Google first")
		return
	}
	if !user.IsActive {
		respondError(w, http.StatusForbidden, "account deactivated")
		return
	}

	if _, err := h.grants.Grant(ctx, user.ID, claims.FamilyName, model.GrantMethodEmailVerification); err != nil {
		h.logger.Error("verification grant", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.users.MarkLogin(ctx, user.ID); err != nil {
		h.logger.Error("mark login", "error", err, "user_id", user.ID)
	}

	families, err := h.grants.ListFamilies(ctx, user.ID)
	if err != nil {
		h.logger.Error("list families", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.setSessionCookie(w, user, families); err != nil {
		h.logger.Error("issue session", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.Redirect(w, r, h.frontendURL+"/families/"+url.PathEscape(claims.FamilyName), http.StatusFound)
}

// setSessionCookie issues a 24-hour session over the current family set
// and writes it as the auth cookie. The value keeps the Bearer prefix so
// the cookie doubles as an Authorization header value.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, user *model.User, families []string) error {
	signed, err := h.issuer.IssueSession(user.ID, user.Email, families, 0)
	if err != nil {
		return err
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
	return nil
}

func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, h.frontendURL+"/error?message="+url.QueryEscape(msg), http.StatusFound)
}

func (h *AuthHandler) softFail(w http.ResponseWriter, r *http.Request) {
	h.redirectError(w, r, "Invalid or expired link")
}
