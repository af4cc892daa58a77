package profiling

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	h := chi.NewRouter()
	h.Mount("/debug/pprof", Handler(Config{}))
	for _, path := range []string{Path, Path + "goroutine?debug=1", Path + "heap"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path+"unknown/deeper", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
