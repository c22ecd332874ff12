package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy to transport codes. Internal details
// stay short; stack traces never cross the wire.
func writeError(w http.ResponseWriter, err error) {
	status := uerr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		var e *uerr.Error
		switch {
		case uerr.KindOf(err) == uerr.KindCorrupt:
			msg = "store invariant violated"
		case errors.As(err, &e):
			msg = e.Message
		default:
			msg = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// Query-parameter coercion. Every endpoint follows the same rules: the
// strings "true"/"false" coerce to booleans, decimal strings to integers, and
// absent parameters take their documented default.

func queryString(r *http.Request, key, def string) string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string, def bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, uerr.BadRequest("parameter %s must be true or false, got %q", key, v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, uerr.BadRequest("parameter %s must be an integer, got %q", key, v)
	}
	return n, nil
}

// queryLanguage validates an optional language parameter.
func queryLanguage(r *http.Request) (types.Language, error) {
	v := r.URL.Query().Get("language")
	if v == "" {
		return "", nil
	}
	lang := types.Language(v)
	if !lang.Valid() {
		return "", uerr.BadRequest("unknown language %q", v)
	}
	return lang, nil
}

// queryProject validates an optional project parameter against the workspace
// configuration.
func (s *Server) queryProject(r *http.Request) (string, error) {
	v := r.URL.Query().Get("project")
	if v == "" {
		return "", nil
	}
	if len(s.cfg.Projects) > 0 && !s.cfg.HasProject(v) {
		return "", uerr.BadRequest("unknown project %q", v)
	}
	return v, nil
}

// loadingResponse is returned by query endpoints before the memory index has
// been published.
func loadingResponse(key string) map[string]any {
	return map[string]any{
		key:     []any{},
		"hints": []string{"index still loading"},
	}
}
