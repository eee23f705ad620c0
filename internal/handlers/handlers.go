package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"creditledger/internal/credits"
	"creditledger/internal/services"
)

const maxBodyBytes = 1 << 16

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, map[string]string{"error": code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func parseAmount(raw json.Number) (int64, error) {
	amount, err := credits.ParseAmount(string(raw))
	if err != nil {
		return 0, errors.Join(services.ErrInvalidAmount, err)
	}
	return amount, nil
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()
	return parseInt(query.Get("limit"), 0), parseInt(query.Get("offset"), 0)
}
