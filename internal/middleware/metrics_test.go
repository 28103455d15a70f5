package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type mockStatusRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func TestMetricsMiddleware_RecordsStatusCode(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name: "explicit 201",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			want: http.StatusCreated,
		},
		{
			name: "implicit 200 on write",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("ok"))
			},
			want: http.StatusOK,
		},
		{
			name: "error response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				WriteInternalServerError(w)
			},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &mockStatusRecorder{}
			handler := NewMetricsMiddleware(recorder)(tt.handler)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if len(recorder.statuses) != 1 {
				t.Fatalf("recorded %d statuses, want 1", len(recorder.statuses))
			}
			if recorder.statuses[0] != tt.want {
				t.Errorf("recorded status = %d, want %d", recorder.statuses[0], tt.want)
			}
			if w.Code != tt.want {
				t.Errorf("response status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
