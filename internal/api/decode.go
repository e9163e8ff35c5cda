package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// decodeJSON decodes one JSON document from the request body into dst and
// writes the error response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON document")
	}
	if err == nil {
		return true
	}

	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
	}
	return false
}
