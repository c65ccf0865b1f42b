package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemMediaType(t *testing.T) {
	rr := httptest.NewRecorder()
	Problem(rr, http.StatusConflict, "Invalid State", "cannot cancel a received order")

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `"title":"Invalid State"`)
	require.Contains(t, rr.Body.String(), `"status":409`)
}

func TestJSONMediaType(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusOK, map[string]string{"status": "ok"})

	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	payload := `{"notes":"` + strings.Repeat("x", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))

	var target struct {
		Notes string `json:"notes"`
	}
	require.Error(t, DecodeJSON(req, &target))
}
