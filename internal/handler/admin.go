package handler

import (
	"crypto/subtle"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nwbull/heritage/internal/config"
	"github.com/nwbull/heritage/internal/store"
)

type AdminHandler struct {
	cfg      config.Config
	consents *store.ConsentStore
	logger   *slog.Logger
}

func NewAdminHandler(cfg config.Config, consents *store.ConsentStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{cfg: cfg, consents: consents, logger: logger}
}

// ExportEmails streams the marketing opt-in list for one family as CSV.
// Guarded by the static admin token; with no token configured the
// endpoint is disabled entirely.
func (h *AdminHandler) ExportEmails(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminToken == "" {
		respondError(w, http.StatusUnauthorized, "admin export disabled")
		return
	}
	// The token arrives either as a bearer header or, for browser
	// downloads, as a query parameter.
	provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if provided == "" {
		provided = r.URL.Query().Get("admin_token")
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.cfg.AdminToken)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid admin token")
		return
	}

	familyName := strings.ToLower(strings.TrimSuffix(r.PathValue("family"), ".csv"))
	if !h.cfg.ValidFamily(familyName) {
		respondError(w, http.StatusNotFound, "unknown family")
		return
	}

	recipients, err := h.consents.MarketingRecipients(r.Context(), familyName)
	if err != nil {
		h.logger.Error("export recipients", "error", err, "family", familyName)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+familyName+`-marketing.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"email", "name", "consented_at"})
	for _, rec := range recipients {
		cw.Write([]string{rec.Email, rec.Name, rec.ConsentedAt.UTC().Format(time.RFC3339)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("write csv", "error", err, "family", familyName)
	}

	h.logger.Info("exported marketing list", "family", familyName, "recipients", len(recipients))
}
