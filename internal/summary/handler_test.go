package summary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
)

func newTestRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s.RegisterRoutes(r)
	return r
}

func TestGetSummaryHandler_ReturnsSummary(t *testing.T) {
	events := &fakeEventStore{}
	rollups := &fakeRollups{
		totals: map[string]int64{"message_sent": 5},
		users:  map[string]int64{"u-1": 5},
	}
	s := newTestService(events, rollups, nil)
	router := newTestRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/summary?window=last_7d", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body v1.AccountSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "acct-1", body.AccountID)
	require.Equal(t, v1.WindowLast7d, body.Window)
	require.Equal(t, v1.SourceDenormalized, body.Source)
	require.Equal(t, int64(5), body.Totals["message_sent"])
}

func TestGetSummaryHandler_UnknownWindowFallsBackTo24h(t *testing.T) {
	events := &fakeEventStore{}
	rollups := &fakeRollups{totals: map[string]int64{"login": 1}, users: map[string]int64{"u-1": 1}}
	s := newTestService(events, rollups, nil)
	router := newTestRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/summary?window=bogus", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body v1.AccountSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, v1.WindowLast24h, body.Window)
}

func TestGetSummaryHandler_TimeoutReturns504(t *testing.T) {
	events := &fakeEventStore{err: context.DeadlineExceeded}
	rollups := &fakeRollups{err: errors.New("force raw tier")}
	s := newTestService(events, rollups, nil)
	router := newTestRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/summary", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Contains(t, w.Body.String(), "request_timeout")
}

func TestGetSummaryHandler_StorageFailureReturns500(t *testing.T) {
	events := &fakeEventStore{err: errors.New("database down")}
	rollups := &fakeRollups{err: errors.New("also down")}
	s := newTestService(events, rollups, nil)
	router := newTestRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/summary", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "internal_error")
}

func TestSampleAccountsHandler_Limits(t *testing.T) {
	ids := make([]string, 150)
	for i := range ids {
		ids[i] = "acct"
	}
	events := &fakeEventStore{sampleIDs: ids}
	s := newTestService(events, &fakeRollups{}, nil)
	router := newTestRouter(s)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "default limit", query: "", want: 10},
		{name: "explicit limit", query: "?limit=25", want: 25},
		{name: "capped at maximum", query: "?limit=500", want: 100},
		{name: "unparseable falls back to default", query: "?limit=abc", want: 10},
		{name: "non-positive falls back to default", query: "?limit=-1", want: 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/accounts/sample"+tc.query, nil)
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				Accounts []string `json:"accounts"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Len(t, body.Accounts, tc.want)
		})
	}
}
