package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/export"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/query/sqldb"
)

type connectRequest struct {
	Dialect  string `json:"dialect"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
	APIKey   string `json:"api_key"`
	Mode     string `json:"mode"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type resultPayload struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	DurationMS int64    `json:"duration_ms"`
}

type sessionResponse struct {
	pipeline.Snapshot
	Result *resultPayload `json:"result,omitempty"`
}

func newSessionResponse(snap pipeline.Snapshot) sessionResponse {
	response := sessionResponse{Snapshot: snap}
	if snap.Result != nil {
		rows := make([][]any, 0, len(snap.Result.Rows))
		for _, row := range snap.Result.Rows {
			rows = append(rows, query.NormalizeRow(row))
		}
		response.Result = &resultPayload{
			Columns:    snap.Result.Columns,
			Rows:       rows,
			RowCount:   len(rows),
			DurationMS: snap.Result.Duration.Milliseconds(),
		}
	}
	return response
}

func handleConnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleAsker)
	if !ok {
		return
	}

	var req connectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	target := sqldb.Config{
		DSN:      strings.TrimSpace(req.DSN),
		Host:     strings.TrimSpace(req.Host),
		Port:     req.Port,
		Database: strings.TrimSpace(req.Database),
		User:     req.User,
		Password: req.Password,
		SSLMode:  strings.TrimSpace(req.SSLMode),
	}
	if strings.TrimSpace(req.Dialect) != "" {
		dialect, err := query.ParseDialect(req.Dialect)
		if err != nil {
			writeFailure(w, r, failure.InvalidInput(err.Error()), nil)
			return
		}
		target.Dialect = dialect
	}

	session, err := deps.Sessions.Open(r.Context(), tenantID, pipeline.ConnectRequest{
		Target: target,
		APIKey: req.APIKey,
		Mode:   req.Mode,
	})
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "connect failed",
				slog.String("tenant_id", tenantID),
				slog.String("dialect", string(target.Dialect)),
				slog.String("error_kind", string(failure.KindOf(err))),
			)
		}
		writeFailure(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(session.Snapshot()))
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleAsker)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": deps.Sessions.List(tenantID)})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session.Snapshot()))
}

func handleDisconnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleAsker)
	if !ok {
		return
	}
	if err := deps.Sessions.Close(tenantID, r.PathValue("id")); err != nil {
		writeFailure(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	schema, summary := session.Schema()
	writeJSON(w, http.StatusOK, map[string]any{
		"dialect": schema.Dialect,
		"tables":  schema.Tables,
		"summary": summary,
	})
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	var req translateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := session.Translate(r.Context(), req.Question)
	respondWithSnapshot(w, r, snap, err)
}

func handleEditSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	var req sqlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := session.SetSQL(req.SQL)
	respondWithSnapshot(w, r, snap, err)
}

func handleRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	var req sqlRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	snap, err := session.Run(r.Context(), req.SQL)
	respondWithSnapshot(w, r, snap, err)
}

func handleResultCSV(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r, auth.RoleAsker)
	if !ok {
		return
	}
	result, ok := session.Result()
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "RESULT_NOT_FOUND", "session has no result; run a query first", false, nil)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ID()+".csv"))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, result); err != nil && deps.Logger != nil {
		deps.Logger.ErrorContext(r.Context(), "stream csv failed", slog.String("session_id", session.ID()), slog.Any("error", err))
	}
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	session, ok := lookupSession(deps, w, r, auth.RoleExporter)
	if !ok {
		return
	}
	result, ok := session.Result()
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "RESULT_NOT_FOUND", "session has no result; run a query first", false, nil)
		return
	}
	object, err := deps.Exporter.ExportParquet(r.Context(), session.TenantID(), session.ID(), result)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export result", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, object)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	session, ok := lookupSession(deps, w, r, auth.RoleExporter)
	if !ok {
		return
	}
	objects, err := deps.Exporter.List(r.Context(), session.TenantID(), session.ID())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_LIST_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": objects})
}

func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) (*pipeline.Orchestrator, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session registry is not configured", false, nil)
		return nil, false
	}
	tenantID, ok := authorize(w, r, role)
	if !ok {
		return nil, false
	}
	session, err := deps.Sessions.Get(tenantID, r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, err, nil)
		return nil, false
	}
	return session, true
}

// respondWithSnapshot writes the session on success. Stage failures carry
// the failed session in the error context so clients can render it.
func respondWithSnapshot(w http.ResponseWriter, r *http.Request, snap pipeline.Snapshot, err error) {
	if err != nil {
		writeFailure(w, r, err, map[string]any{"session": newSessionResponse(snap)})
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}
