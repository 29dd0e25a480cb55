package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"millops/internal/apperr"
	"millops/internal/logging"
	"millops/internal/models"
	"millops/internal/validation"
)

// JSON writes a successful API response with the given data.
func JSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{Data: data})
}

// Created writes data with a 201 status.
func Created(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.APIResponse{Data: data})
}

// JSONMeta writes a successful API response with pagination metadata.
func JSONMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.APIResponse{
		Data: data,
		Meta: &models.Meta{Total: total, Page: page, Limit: limit},
	})
}

// Err writes a JSON error response with the given message and HTTP status code.
func Err(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Invalid writes a 400 carrying every field error.
func Invalid(w http.ResponseWriter, ve *validation.ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  ve.Error(),
		"fields": ve.Errors,
	})
}

// Fail writes err with the status its kind maps to. Unexpected errors are
// logged with the request logger and reported without internals.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.ValidationErrors
	if errors.As(err, &ve) {
		Invalid(w, ve)
		return
	}
	code := apperr.Status(err)
	if code == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		Err(w, "internal error", code)
		return
	}
	Err(w, err.Error(), code)
}

// DecodeBody decodes a JSON request body into the given value.
func DecodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Paging reads page and limit query parameters, clamping limit to max.
func Paging(r *http.Request, defLimit, max int) (page, limit, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defLimit
	}
	if limit > max {
		limit = max
	}
	return page, limit, (page - 1) * limit
}
