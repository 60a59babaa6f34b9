package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}
