package wstoken

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/api/v1/middleware"
	"github.com/mailfold/relay/internal/services/wstoken"
	"github.com/mailfold/relay/pkg/httpext"
)

// TokenResponse is the issuance payload consumed by the client's token source.
type TokenResponse struct {
	Token string `json:"token"`
}

// HandleToken mints a fresh single-use channel token for the authenticated
// session. The client calls this immediately before every websocket dial.
func HandleToken(wsTokenService *wstoken.Service, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpext.JsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		httpext.JsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token, err := wsTokenService.Issue(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to issue channel token")
		httpext.JsonError(w, "Failed to issue channel token", http.StatusInternalServerError)
		return
	}

	httpext.JsonBody(w, http.StatusOK, TokenResponse{Token: token})
}
