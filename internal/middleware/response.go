package middleware

import (
	"net/http"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/httputil"
)

// rejectOversized answers a request whose body is over the limit before any
// session handler reads it, using the same error envelope as the handlers.
func rejectOversized(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, httputil.ErrorResponse{
		Error: "Request body too large",
		Code:  apperrors.ErrCodeInvalidArgument,
	})
}
