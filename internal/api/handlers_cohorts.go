// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopsight/shopsight/internal/cohort"
	"github.com/shopsight/shopsight/internal/database"
	"github.com/shopsight/shopsight/internal/funnel"
	"github.com/shopsight/shopsight/internal/logging"
	"github.com/shopsight/shopsight/internal/models"
	"github.com/shopsight/shopsight/internal/validation"
)

// validateCohort checks the pieces the validator tags cannot reach: the
// polymorphic conditions payload and its operators.
func validateCohort(c *models.Cohort) map[string]interface{} {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr.Details()
	}
	if c.Conditions.Empty() {
		return map[string]interface{}{"conditions": "at least one condition is required"}
	}

	if c.Conditions.Structured != nil {
		for i, p := range c.Conditions.Structured.Properties {
			if !models.ValidConditionOperator(p.Operator) {
				return map[string]interface{}{
					fmt.Sprintf("conditions.properties[%d].operator", i): "unknown operator",
				}
			}
		}
		return nil
	}
	for i, cond := range c.Conditions.Simple {
		if !models.ValidConditionOperator(cond.Operator) {
			return map[string]interface{}{
				fmt.Sprintf("conditions[%d].operator", i): "unknown operator",
			}
		}
	}
	return nil
}

// CohortCreate creates a cohort definition.
func (h *Handlers) CohortCreate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var c models.Cohort
	if err := decodeJSON(r, &c); err != nil {
		rw.ValidationError("malformed cohort payload", nil)
		return
	}
	if details := validateCohort(&c); details != nil {
		rw.ValidationError("invalid cohort", details)
		return
	}

	if err := h.db.CreateCohort(r.Context(), &c); err != nil {
		rw.StorageError(err)
		return
	}
	rw.Created(&c)
}

// CohortList returns all cohort definitions with their cached user counts.
func (h *Handlers) CohortList(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	cohorts, err := h.db.ListCohorts(r.Context())
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.Success(cohorts)
}

// CohortGet returns one cohort. Membership is recomputed on read; the
// cached count is refreshed best-effort and a refresh failure only degrades
// the count to the stored summary.
func (h *Handlers) CohortGet(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	c, err := h.db.GetCohort(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrCohortNotFound) {
		rw.NotFound("cohort not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}

	if _, err := h.cohorts.RefreshUserCount(r.Context(), c); err != nil && !errors.Is(err, cohort.ErrNoConditions) {
		logging.Warn().Err(err).Str("cohort_id", c.ID).Msg("Cohort user count refresh failed")
	}
	rw.Success(c)
}

// CohortUpdate replaces a cohort definition and re-evaluates its count.
func (h *Handlers) CohortUpdate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	var c models.Cohort
	if err := decodeJSON(r, &c); err != nil {
		rw.ValidationError("malformed cohort payload", nil)
		return
	}
	if details := validateCohort(&c); details != nil {
		rw.ValidationError("invalid cohort", details)
		return
	}

	c.ID = chi.URLParam(r, "id")
	err := h.db.UpdateCohort(r.Context(), &c)
	if errors.Is(err, database.ErrCohortNotFound) {
		rw.NotFound("cohort not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}

	if _, err := h.cohorts.RefreshUserCount(r.Context(), &c); err != nil && !errors.Is(err, cohort.ErrNoConditions) {
		logging.Warn().Err(err).Str("cohort_id", c.ID).Msg("Cohort user count refresh failed")
	}
	rw.Success(&c)
}

// CohortDelete removes a cohort definition.
func (h *Handlers) CohortDelete(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	err := h.db.DeleteCohort(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrCohortNotFound) {
		rw.NotFound("cohort not found")
		return
	}
	if err != nil {
		rw.StorageError(err)
		return
	}
	rw.NoContent()
}

// CohortAnalyze runs retention and behavior analysis over the window.
func (h *Handlers) CohortAnalyze(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w)

	analysis, err := h.cohorts.Analyze(r.Context(), chi.URLParam(r, "id"), cohort.Options{
		Window: r.URL.Query().Get("dateRange"),
	})
	switch {
	case err == nil:
		rw.Success(analysis)
	case errors.Is(err, database.ErrCohortNotFound):
		rw.NotFound("cohort not found")
	case errors.Is(err, cohort.ErrNoConditions), errors.Is(err, funnel.ErrInvalidWindow):
		rw.ValidationError(err.Error(), nil)
	default:
		rw.StorageError(err)
	}
}
