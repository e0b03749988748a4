package http

import (
	"net/http"
	"strings"

	"despesas/internal/core"
	"despesas/internal/services"
)

// maxCurationPatches bounds one update batch.
const maxCurationPatches = 5000

func (s *Server) handleCurationMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.curation.Meta(r.Context(), r.URL.Query().Get("csv_file"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, meta)
}

func (s *Server) handleCurationList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := parseOptionalDate(q.Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseOptionalDate(q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := s.curation.List(r.Context(), q.Get("csv_file"), services.CurationQuery{
		View:  services.CurationView(strings.ToLower(strings.TrimSpace(q.Get("view")))),
		Limit: limit,
		From:  from,
		To:    to,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, curationPage(page))
}

type curationUpdateRequest struct {
	CSVFile string                   `json:"csv_file"`
	Updates []services.CurationPatch `json:"updates"`
}

func (s *Server) handleCurationUpdate(w http.ResponseWriter, r *http.Request) {
	var req curationUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Updates) == 0 {
		writeError(w, r, core.Validationf("updates must not be empty"))
		return
	}
	if len(req.Updates) > maxCurationPatches {
		writeError(w, r, core.Validationf("at most %d updates per request", maxCurationPatches))
		return
	}
	for i := range req.Updates {
		if req.Updates[i].Category != nil {
			c := sanitizeInput(*req.Updates[i].Category)
			req.Updates[i].Category = &c
		}
	}
	file, changed, err := s.curation.Update(r.Context(), req.CSVFile, req.Updates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"csv_file": file, "changed_fields": changed})
}

type curationRangeRequest struct {
	CSVFile string `json:"csv_file"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (s *Server) handleCurationDateRange(w http.ResponseWriter, r *http.Request) {
	var req curationRangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	from, err := parseOptionalDate(req.From)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseOptionalDate(req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if from.IsEmpty() && to.IsEmpty() {
		writeError(w, r, core.Validationf("from or to is required"))
		return
	}
	res, err := s.curation.ApplyDateRange(r.Context(), req.CSVFile, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

type curationFileRequest struct {
	CSVFile string `json:"csv_file"`
}

func (s *Server) handleCurationExport(w http.ResponseWriter, r *http.Request) {
	var req curationFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.curation.Export(r.Context(), req.CSVFile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

type curationImportRequest struct {
	CSVFile         string `json:"csv_file"`
	RequireCategory *bool  `json:"require_category"`
	FailFast        bool   `json:"fail_fast"`
}

func (s *Server) handleCurationImport(w http.ResponseWriter, r *http.Request) {
	var req curationImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// Omitted require_category means true.
	requireCategory := req.RequireCategory == nil || *req.RequireCategory
	report, err := s.curation.ImportAsExpenses(r.Context(), req.CSVFile, services.ImportOptions{
		RequireCategory: requireCategory,
		FailFast:        req.FailFast,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, report)
}
