package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOrigin_NoOriginHeaderAllowed(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.NoError(t, ValidateOrigin(req, []string{"http://localhost:3000"}))
}

func TestValidateOrigin_AllowedOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	assert.NoError(t, ValidateOrigin(req, []string{"http://localhost:3000"}))
}

func TestValidateOrigin_DisallowedOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Error(t, ValidateOrigin(req, []string{"http://localhost:3000"}))
}
