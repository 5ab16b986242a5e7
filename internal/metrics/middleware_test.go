package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/task/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	before404 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	for _, path := range []string{"/task/1", "/task/2", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, before200+2,
		testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")))
	require.Equal(t, before404+1,
		testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")))
}

func TestObserveHelpers(t *testing.T) {
	beforeClaimed := testutil.ToFloat64(jobsClaimedTotal)
	ObserveClaims(3)
	require.Equal(t, beforeClaimed+3, testutil.ToFloat64(jobsClaimedTotal))

	beforeFinished := testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("concluido"))
	ObserveJobFinished("concluido")
	require.Equal(t, beforeFinished+1,
		testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("concluido")))

	SetBusySlots(2)
	require.Equal(t, float64(2), testutil.ToFloat64(busyWorkerSlots))

	beforeLeads := testutil.ToFloat64(leadsInsertedTotal)
	ObserveLeads(7)
	require.Equal(t, beforeLeads+7, testutil.ToFloat64(leadsInsertedTotal))
}
