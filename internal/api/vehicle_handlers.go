package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/roadscope/rs-fleet/internal/data"
	"github.com/roadscope/rs-fleet/internal/vehicles"
)

type VehicleHandler struct {
	Service *vehicles.Service
}

type CreateVehicleRequest struct {
	Name         string   `json:"name" validate:"required,max=120"`
	VIN          string   `json:"vin" validate:"required,len=17"`
	LicensePlate string   `json:"license_plate" validate:"required,max=20"`
	Status       string   `json:"status" validate:"omitempty,oneof=active maintenance retired"`
	OdometerKm   int      `json:"odometer_km" validate:"omitempty,min=0"`
	Tags         []string `json:"tags"`
}

type UpdateVehicleRequest struct {
	Name         string   `json:"name" validate:"required,max=120"`
	LicensePlate string   `json:"license_plate" validate:"required,max=20"`
	Status       string   `json:"status" validate:"required,oneof=active maintenance retired"`
	OdometerKm   int      `json:"odometer_km" validate:"min=0"`
	Tags         []string `json:"tags"`
}

// CreateVehicle registers a new fleet vehicle.
// POST /api/v1/vehicles
func (h *VehicleHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	v := &data.Vehicle{
		Name:         req.Name,
		VIN:          req.VIN,
		LicensePlate: req.LicensePlate,
		Status:       req.Status,
		OdometerKm:   req.OdometerKm,
		Tags:         req.Tags,
	}
	if err := h.Service.CreateVehicle(r.Context(), actor, v); err != nil {
		if errors.Is(err, vehicles.ErrInvalidName) || errors.Is(err, vehicles.ErrInvalidVIN) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

// GetVehicle fetches one vehicle.
// GET /api/v1/vehicles/{id}
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}

	v, err := h.Service.GetVehicle(r.Context(), actor, id)
	if errors.Is(err, data.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// UpdateVehicle replaces the mutable fields of a vehicle.
// PUT /api/v1/vehicles/{id}
func (h *VehicleHandler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}

	var req UpdateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	v := &data.Vehicle{
		ID:           id,
		Name:         req.Name,
		LicensePlate: req.LicensePlate,
		Status:       req.Status,
		OdometerKm:   req.OdometerKm,
		Tags:         req.Tags,
	}
	err = h.Service.UpdateVehicle(r.Context(), actor, v)
	if errors.Is(err, data.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if errors.Is(err, vehicles.ErrInvalidName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// DeleteVehicle soft deletes a vehicle.
// DELETE /api/v1/vehicles/{id}
func (h *VehicleHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}

	err = h.Service.DeleteVehicle(r.Context(), actor, id)
	if errors.Is(err, data.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListVehicles pages through the fleet.
// GET /api/v1/vehicles
func (h *VehicleHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	filter := data.VehicleFilter{
		Status: q.Get("status"),
		Query:  q.Get("q"),
	}

	limit := 50
	offset := 0
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := q.Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	items, total, err := h.Service.ListVehicles(r.Context(), actor, filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if items == nil {
		items = []*data.Vehicle{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles": items,
		"total":    total,
	})
}
