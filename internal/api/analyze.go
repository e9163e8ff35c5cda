package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/explain"
	"github.com/mehrguard/mehrguard/internal/reason"
	"github.com/mehrguard/mehrguard/pkg/observability"
)

type analyzeRequest struct {
	URL string `json:"url"`
	// Config is an engine config document overriding the server's.
	Config  json.RawMessage `json:"config,omitempty"`
	Explain bool            `json:"explain,omitempty"`
}

type batchRequest struct {
	URLs    []string        `json:"urls"`
	Config  json.RawMessage `json:"config,omitempty"`
	Explain bool            `json:"explain,omitempty"`
}

type batchResponse struct {
	Count         int   `json:"count"`
	TablesVersion int   `json:"tablesVersion"`
	Results       []any `json:"results"`
}

// engineConfig resolves the config for one request and a label for traces.
func (a *App) engineConfig(raw json.RawMessage) (*engine.Config, string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return a.engine.Config(), a.cfg.Engine.Preset, nil
	}
	cfg, err := engine.ParseConfigJSON(raw)
	if err != nil {
		return nil, "", err
	}
	return cfg, "custom", nil
}

func (a *App) writeConfigError(w http.ResponseWriter, err error) {
	a.metrics.IncRejected()
	var ce *engine.ConfigError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": ce.Error(),
			"field": ce.Field,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (a *App) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		a.metrics.IncRejected()
		return
	}
	if !a.allow(w, r, 1) {
		return
	}
	cfg, label, err := a.engineConfig(req.Config)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}

	_, span := observability.Start(r.Context(), observability.Request{
		Op:        observability.OpAnalyze,
		RequestID: requestIDFrom(r.Context()),
		Config:    label,
	})
	defer span.End()

	start := time.Now()
	as := a.engine.AnalyzeWith(req.URL, cfg)
	a.metrics.ObserveAssessment(as, time.Since(start))
	observability.RecordVerdict(span, string(as.Verdict), as.Score, codeStrings(as.Flags), tablesVersion(as))

	a.logger.Debug("analyzed url",
		"request_id", requestIDFrom(r.Context()),
		"verdict", as.Verdict,
		"score", as.Score,
		"flags", len(as.Flags),
	)

	switch r.URL.Query().Get("format") {
	case "markdown":
		writeText(w, http.StatusOK, explain.FormatMarkdown(explain.Enrich(as)))
	case "", "json":
		if req.Explain {
			writeJSON(w, http.StatusOK, explain.Enrich(as))
			return
		}
		writeJSON(w, http.StatusOK, as)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", r.URL.Query().Get("format")))
	}
}

func (a *App) analyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		a.metrics.IncRejected()
		return
	}
	if len(req.URLs) == 0 {
		a.metrics.IncRejected()
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if limit := a.cfg.Server.MaxBatchSize; limit > 0 && len(req.URLs) > limit {
		a.metrics.IncRejected()
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch of %d urls exceeds limit of %d", len(req.URLs), limit))
		return
	}
	if !a.allow(w, r, len(req.URLs)) {
		return
	}
	cfg, label, err := a.engineConfig(req.Config)
	if err != nil {
		a.writeConfigError(w, err)
		return
	}

	ctx, span := observability.Start(r.Context(), observability.Request{
		Op:        observability.OpAnalyzeBatch,
		RequestID: requestIDFrom(r.Context()),
		Config:    label,
		BatchSize: len(req.URLs),
	})
	defer span.End()

	start := time.Now()
	results, err := a.engine.AnalyzeBatch(ctx, req.URLs, a.cfg.Server.Workers, cfg)
	if err != nil {
		observability.RecordError(span, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	per := time.Since(start) / time.Duration(len(results))
	a.metrics.IncBatch()

	resp := batchResponse{Count: len(results), Results: make([]any, len(results))}
	for i, as := range results {
		a.metrics.ObserveAssessment(as, per)
		if req.Explain {
			resp.Results[i] = explain.Enrich(as)
		} else {
			resp.Results[i] = as
		}
	}
	for _, as := range results {
		if v := tablesVersion(as); v > 0 {
			resp.TablesVersion = v
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func codeStrings(codes []reason.Code) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func tablesVersion(a engine.Assessment) int {
	if a.Details == nil {
		return 0
	}
	return a.Details.TablesVersion
}
