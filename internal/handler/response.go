package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/httputil"
	"github.com/linkdesk/session-broker/internal/middleware"
	"github.com/linkdesk/session-broker/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.InvalidArgument("Request body too large")
		}
		return apperrors.InvalidArgument("Invalid request body")
	}
	return nil
}

func requireCaller(w http.ResponseWriter, r *http.Request) (model.CallerIdentity, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return model.CallerIdentity{}, false
	}
	return caller, true
}
