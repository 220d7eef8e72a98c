package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// BackoffJSON is the /backoff response for one channel.
type BackoffJSON struct {
	Channel   int     `json:"channel"`
	BackoffDB float64 `json:"backoff_db"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func allBackoff(src BackoffSource) []BackoffJSON {
	n := src.ChannelCount()
	out := make([]BackoffJSON, n)
	for i := 0; i < n; i++ {
		out[i] = BackoffJSON{Channel: i, BackoffDB: src.ChannelBackoff(i)}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode json response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
