package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorUsesAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewAppError("QUOTA_EXHAUSTED", "promotion usage quota exhausted", http.StatusConflict, errors.New("boom")).
		WithDetails(map[string]string{"ruleDetailId": "r1"})

	WriteError(rr, err)

	require.Equal(t, http.StatusConflict, rr.Code)
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "QUOTA_EXHAUSTED", body.Error.Code)
	require.Equal(t, map[string]any{"ruleDetailId": "r1"}, body.Error.Details)
}

func TestWriteErrorHidesUnclassified(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("dial tcp: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{name: "ok", body: `{"name":"x"}`},
		{name: "empty", body: ``, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"nope":1}`, status: http.StatusBadRequest},
		{name: "trailing", body: `{"name":"x"}{"name":"y"}`, status: http.StatusBadRequest},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := DecodeJSON(rr, req, &dst)
			if tc.status == 0 {
				require.NoError(t, err)
				require.Equal(t, "x", dst.Name)
				return
			}
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, tc.status, appErr.HTTPStatus)
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	require.Equal(t, "10.0.0.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))
}
