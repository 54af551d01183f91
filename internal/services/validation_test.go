package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexledger/backend/internal/middleware"
)

// authenticatedRequest stamps the firm and user IDs that AuthMiddleware would
// normally extract from the bearer token.
func authenticatedRequest(req *http.Request, firmID, userID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.FirmIDKey, firmID)
	ctx = context.WithValue(ctx, middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "IOLTA Main"}`))
		var dst payload
		err := DecodeJSONBody(httptest.NewRecorder(), req, &dst)
		require.NoError(t, err)
		assert.Equal(t, "IOLTA Main", dst.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "x", "bogus": 1}`))
		var dst payload
		assert.Error(t, DecodeJSONBody(httptest.NewRecorder(), req, &dst))
	})

	t.Run("trailing content rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name": "x"}{"name": "y"}`))
		var dst payload
		assert.Error(t, DecodeJSONBody(httptest.NewRecorder(), req, &dst))
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
		var dst payload
		assert.Error(t, DecodeJSONBody(httptest.NewRecorder(), req, &dst))
	})
}

func TestSendSuccessResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	SendSuccessResponse(rr, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "abc", resp.Data["id"])
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		SendErrorResponse(rr, "Trust account not found", http.StatusNotFound, nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "Trust account not found", resp.Message)
	})

	t.Run("validation details included", func(t *testing.T) {
		type form struct {
			Email string `json:"email" validate:"required,email"`
		}
		helper := NewValidationHelper()
		err := helper.ValidateStruct(&form{Email: "not-an-email"})
		require.Error(t, err)

		rr := httptest.NewRecorder()
		SendErrorResponse(rr, "Validation failed", http.StatusBadRequest, err)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := rr.Body.String()
		assert.Contains(t, body, "Validation failed")
		assert.Contains(t, body, "details")
	})
}

func TestValidationHelper(t *testing.T) {
	helper := NewValidationHelper()

	type createForm struct {
		Name          string `validate:"required"`
		AccountNumber string `validate:"required,min=4"`
	}

	assert.NoError(t, helper.ValidateStruct(&createForm{Name: "Operating IOLTA", AccountNumber: "9912"}))
	assert.Error(t, helper.ValidateStruct(&createForm{AccountNumber: "9912"}))
	assert.Error(t, helper.ValidateStruct(&createForm{Name: "x", AccountNumber: "12"}))
}

func TestDecodeJSONBodyRespectsSizeLimit(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 1<<20+100)
	body := append([]byte(`{"name": "`), big...)
	body = append(body, []byte(`"}`)...)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	var dst struct {
		Name string `json:"name"`
	}
	assert.Error(t, DecodeJSONBody(httptest.NewRecorder(), req, &dst))
}
