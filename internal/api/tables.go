package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mehrguard/mehrguard/internal/reason"
	"github.com/mehrguard/mehrguard/internal/tables"
	"github.com/mehrguard/mehrguard/internal/tables/update"
	"github.com/mehrguard/mehrguard/pkg/observability"
)

// SourceAPI labels snapshots uploaded through PUT /api/v1/tables.
const SourceAPI = "api"

func (a *App) listReasons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reasons": reason.All()})
}

func (a *App) getTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Tables().Current().Summary())
}

// putTables activates an uploaded manifest. Versions not newer than the
// active one are refused unless ?force=true.
func (a *App) putTables(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.Start(r.Context(), observability.Request{
		Op:        observability.OpTablesApply,
		RequestID: requestIDFrom(r.Context()),
		Source:    SourceAPI,
	})
	defer span.End()

	raw, err := io.ReadAll(io.LimitReader(r.Body, tables.MaxManifestSize+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	next, err := tables.Load(raw, SourceAPI)
	if err != nil {
		observability.RecordError(span, err)
		a.metrics.IncRejected()
		if errors.Is(err, tables.ErrManifestTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	store := a.engine.Tables()
	active := store.Current()
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if !force && next.Version <= active.Version {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          fmt.Sprintf("version %d is not newer than active version %d", next.Version, active.Version),
			"active_version": active.Version,
		})
		return
	}
	swapped, err := store.CompareAndSwap(active, next)
	if err != nil {
		observability.RecordError(span, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !swapped {
		current := store.Current()
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "active tables changed while applying; retry",
			"active_version": current.Version,
		})
		return
	}
	observability.RecordTables(span, next.Version, next.Digest)
	if a.persister != nil {
		if err := a.persister.Save(ctx, next, raw); err != nil {
			a.logger.Warn("uploaded tables not persisted", "version", next.Version, "error", err)
		}
	}
	a.logger.Info("tables replaced via api",
		"request_id", requestIDFrom(r.Context()),
		"version", next.Version,
		"previous", active.Version,
	)
	writeJSON(w, http.StatusOK, next.Summary())
}

func (a *App) updateStatus(w http.ResponseWriter, r *http.Request) {
	if a.updater == nil {
		writeError(w, http.StatusNotFound, "table updates are not configured")
		return
	}
	writeJSON(w, http.StatusOK, a.updater.Status())
}

func (a *App) triggerUpdate(w http.ResponseWriter, r *http.Request) {
	if a.updater == nil {
		writeError(w, http.StatusNotFound, "table updates are not configured")
		return
	}
	ctx, span := observability.Start(r.Context(), observability.Request{
		Op:        observability.OpTablesUpdate,
		RequestID: requestIDFrom(r.Context()),
		Source:    a.updater.Status().Source,
	})
	defer span.End()

	st, err := a.updater.CheckNow(ctx)
	switch {
	case errors.Is(err, update.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "status": st})
	case err != nil:
		observability.RecordError(span, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "status": st})
	default:
		observability.RecordTables(span, st.ActiveVersion, a.engine.Tables().Current().Digest)
		writeJSON(w, http.StatusOK, st)
	}
}
