package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthHandler_Authorize(t *testing.T) {
	t.Run("should allow everyone without a secret", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/events", nil)
		assert.True(t, NewAuthHandler("").Authorize(req))
	})

	auth := NewAuthHandler("s3cret")

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   bool
	}{
		{name: "header", target: "/events", header: map[string]string{SecretHeader: "s3cret"}, want: true},
		{name: "bearer", target: "/events", header: map[string]string{"Authorization": "Bearer s3cret"}, want: true},
		{name: "query", target: "/events?token=s3cret", want: true},
		{name: "wrong", target: "/events?token=nope", want: false},
		{name: "missing", target: "/events", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, auth.Authorize(req))
		})
	}
}
