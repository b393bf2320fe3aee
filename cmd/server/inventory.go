package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Simplici0/gemledger/internal/csvio"
	"github.com/Simplici0/gemledger/internal/store"
)

const maxImportSize = 10 << 20

func (s *server) handleListDiamonds(w http.ResponseWriter, r *http.Request) {
	diamonds, err := s.store.ListDiamonds(r.Context(), store.DiamondFilter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diamonds)
}

func (s *server) handleCreateDiamond(w http.ResponseWriter, r *http.Request) {
	var in store.DiamondInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	d, err := s.store.CreateDiamond(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *server) handleGetDiamond(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.store.GetDiamond(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleUpdateDiamond(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in store.DiamondInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	d, err := s.store.UpdateDiamond(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleDeleteDiamond(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteDiamond(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleExportDiamonds(w http.ResponseWriter, r *http.Request) {
	diamonds, err := s.store.ListDiamonds(r.Context(), store.DiamondFilter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("diamonds-%s.csv", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if err := csvio.ExportDiamonds(w, diamonds); err != nil {
		// Headers are gone; all that is left is to log.
		s.logger.Error("export diamonds", zap.Error(err))
	}
}

type importFailure struct {
	StockID string `json:"stock_id"`
	Error   string `json:"error"`
}

type importResult struct {
	Parsed  int                  `json:"parsed"`
	Created []store.Diamond      `json:"created"`
	Invalid []csvio.RowError     `json:"invalid"`
	Failed  []importFailure      `json:"failed"`
	DryRun  bool                 `json:"dry_run,omitempty"`
	Preview []store.DiamondInput `json:"preview,omitempty"`
}

// handleImportDiamonds accepts a CSV as the "file" field of a multipart form
// or as the raw body. With ?dry_run=true nothing is written.
func (s *server) handleImportDiamonds(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, badRequest("missing file field: %v", err))
			return
		}
		defer file.Close()
		src = file
	}

	inputs, rowErrors, err := csvio.ImportDiamonds(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, badRequest("file exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, badRequest("%v", err))
		return
	}

	result := importResult{
		Parsed:  len(inputs),
		Created: make([]store.Diamond, 0, len(inputs)),
		Invalid: rowErrors,
		Failed:  make([]importFailure, 0),
	}
	if r.URL.Query().Get("dry_run") == "true" {
		result.DryRun = true
		result.Preview = inputs
		writeJSON(w, http.StatusOK, result)
		return
	}

	for _, in := range inputs {
		d, err := s.store.CreateDiamond(r.Context(), in)
		if err != nil {
			if !errors.Is(err, store.ErrInvalid) {
				s.writeError(w, r, err)
				return
			}
			result.Failed = append(result.Failed, importFailure{StockID: in.StockID, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, d)
	}
	s.logger.Info("diamonds imported",
		zap.Int("created", len(result.Created)),
		zap.Int("invalid", len(result.Invalid)),
		zap.Int("failed", len(result.Failed)))
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := s.store.ListSellers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sellers)
}

func (s *server) handleCreateSeller(w http.ResponseWriter, r *http.Request) {
	var in store.SellerInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	seller, err := s.store.CreateSeller(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seller)
}

func (s *server) handleGetSeller(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	seller, err := s.store.GetSeller(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seller)
}

func (s *server) handleUpdateSeller(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in store.SellerInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	seller, err := s.store.UpdateSeller(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seller)
}

func (s *server) handleDeleteSeller(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteSeller(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in store.ClientInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	c, err := s.store.CreateClient(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.store.GetClient(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in store.ClientInput
	if !s.decodeJSON(w, r, &in) {
		return
	}
	c, err := s.store.UpdateClient(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteClient(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in store.Settings
	if !s.decodeJSON(w, r, &in) {
		return
	}
	if err := s.store.UpdateSettings(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetSettings(w, r)
}
