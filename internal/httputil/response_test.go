package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"not found", apperrors.NotFound("Session"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"permission denied", apperrors.PermissionDenied("owner only"), http.StatusForbidden, apperrors.ErrCodePermissionDenied},
		{"invalid argument", apperrors.InvalidArgument("bad"), http.StatusBadRequest, apperrors.ErrCodeInvalidArgument},
		{"failed precondition", apperrors.FailedPrecondition("not ended"), http.StatusPreconditionFailed, apperrors.ErrCodeFailedPrecondition},
		{"unauthorized", apperrors.Unauthorized("no token"), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"rate limited", apperrors.RateLimitExceeded(), http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded},
		{"database", apperrors.Database(errors.New("boom")), http.StatusInternalServerError, apperrors.ErrCodeDatabase},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestWriteError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperrors.Database(errors.New("password=hunter2")))

	assert.NotContains(t, rec.Body.String(), "hunter2")
}
