// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/funnel"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/models"
	"github.com/shopsight/shopsight/internal/validation"
)

// validateFunnel runs the struct validation plus the checks the validator
// tags cannot express: known event types and unique step orders.
func validateFunnel(f *models.Funnel) map[string]interface{} {
	if verr := validation.ValidateStruct(f); verr != nil {
		return verr.Details()
	}
	seen := make(map[int]bool, len(f.Steps))
	for i, step := range f.Steps {
		if !models.ValidEventType(step.EventType) {
			return map[string]interface{}{
				fmt.Sprintf("steps[%d].event_type", i): "unknown event type",
			}
		}
		if seen[step.Order] {
			return map[string]interface{}{
				fmt.Sprintf("steps[%d].order", i): "duplicate step order",
			}
		}
		seen[step.Order] = true
	}
	if f.TimeWindow != "" {
		if _, err := funnel.ParseWindow(f.TimeWindow); err != nil {
			return map[string]interface{}{"time_window": "invalid window, use forms like 24h, 7d, 4w"}
		}
	}
	return nil
}

// FunnelCreate creates a funnel definition.
func (h *Handlers) FunnelCreate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var f models.Funnel
	if err := decodeJSON(r, &f); err != nil {
		rw.ValidationError("malformed funnel payload", nil)
		return
	}
	if details := validateFunnel(&f); details != nil {
		rw.ValidationError("invalid funnel", details)
		return
	}

	if err := h.db.CreateFunnel(r.Context(), &f); err != nil {
		rw.StorageError(err)
		return
	}
	rw.Created(&f)
}

// FunnelList returns all funnel definitions.
func (h *Handlers) FunnelList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	funnels, err := h.db.ListFunnels(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(funnels)
}

// FunnelGet returns one funnel definition with its cached stats snapshot.
func (h *Handlers) FunnelGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	f, err := h.db.GetFunnel(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrFunnelNotFound) {
		rw.NotFound("funnel not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(f)
}

// FunnelUpdate replaces a funnel definition. The cached stats snapshot is
// left untouched until the next analysis run.
func (h *Handlers) FunnelUpdate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var f models.Funnel
	if err := decodeJSON(r, &f); err != nil {
		rw.ValidationError("malformed funnel payload", nil)
		return
	}
	if details := validateFunnel(&f); details != nil {
		rw.ValidationError("invalid funnel", details)
		return
	}

	f.ID = chi.URLParam(r, "id")
	err := h.db.UpdateFunnel(r.Context(), &f)
	if errors.Is(err, database.ErrFunnelNotFound) {
		rw.NotFound("funnel not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(&f)
}

// FunnelDelete removes a funnel definition.
func (h *Handlers) FunnelDelete(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	err := h.db.DeleteFunnel(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrFunnelNotFound) {
		rw.NotFound("funnel not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.NoContent()
}

// analysisOptions parses the shared analyze/export query parameters.
func analysisOptions(r *http.Request) funnel.Options {
	q := r.URL.Query()
	return funnel.Options{
		Window: q.Get("dateRange"),
		Segment: models.SegmentFilter{
			Device:           q.Get("device"),
			Country:          q.Get("country"),
			UTMSource:        q.Get("utmSource"),
			ReferrerContains: q.Get("referrerContains"),
			PathPrefix:       q.Get("pathPrefix"),
		},
	}
}

func (h *Handlers) runFunnelAnalysis(w http.ResponseWriter, r *http.Request) (*models.FunnelAnalysis, *ResponseWriter) {
	rw := NewResponseWriter(w)

	analysis, err := h.funnels.Analyze(r.Context(), chi.URLParam(r, "id"), analysisOptions(r))
	switch {
	case err == nil:
		return analysis, rw
	case errors.Is(err, database.ErrFunnelNotFound):
		rw.NotFound("funnel not found")
	case errors.Is(err, funnel.ErrTooFewSteps), errors.Is(err, funnel.ErrInvalidWindow):
		rw.ValidationError(err.Error(), nil)
	default:
		rw.StorageError(err)
	}
	return nil, nil
}

// FunnelAnalyze runs a funnel analysis over the requested window and
// optional segment filter.
func (h *Handlers) FunnelAnalyze(w http.ResponseWriter, r *http.Request) {
	analysis, rw := h.runFunnelAnalysis(w, r)
	if analysis == nil {
		return
	}
	rw.Success(analysis)
}

// FunnelExport streams the analysis as CSV. Baseline and lift appear as
// comment lines ahead of the header when a segment filter was applied.
func (h *Handlers) FunnelExport(w http.ResponseWriter, r *http.Request) {
	analysis, _ := h.runFunnelAnalysis(w, r)
	if analysis == nil {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "funnel-"+analysis.FunnelID+".csv"))

	if analysis.Filtered {
		fmt.Fprintf(w, "# baseline_rate,%.1f\n", analysis.BaselineRate)
		fmt.Fprintf(w, "# filtered_rate,%.1f\n", analysis.FilteredRate)
		fmt.Fprintf(w, "# conversion_lift_pct,%.1f\n", analysis.ConversionLiftPct)
	}

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"order", "name", "users", "conversion_rate", "dropoff_rate", "avg_time_to_next_seconds"})
	for _, step := range analysis.Steps {
		avg := ""
		if step.AvgTimeToNext != nil {
			avg = strconv.FormatFloat(*step.AvgTimeToNext, 'f', 1, 64)
		}
		_ = cw.Write([]string{
			strconv.Itoa(step.Order),
			step.Name,
			strconv.FormatInt(step.Users, 10),
			strconv.FormatFloat(step.ConversionRate, 'f', 1, 64),
			strconv.FormatFloat(step.DropoffRate, 'f', 1, 64),
			avg,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.Error().Err(err).Msg("Failed to write funnel CSV export")
	}
}
