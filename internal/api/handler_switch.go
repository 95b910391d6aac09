package api

import (
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/service"
)

// HandleSwitch returns a handler for POST /api/v1/switch.
// A switch that runs and fails is reported with 200 and success=false; the
// record carries the failed phase.
func HandleSwitch(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SwitchRequest
		if !decodeBodyOrWrite(w, r, &req) {
			return
		}
		result, err := cp.SwitchController(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleSwitchHistory returns a handler for GET /api/v1/switch/history.
// Records are newest first by default. Optional filter: success=true|false.
// Sort keys: timestamp (default), duration.
func HandleSwitchHistory(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		success, ok := boolQueryOrWrite(w, r, "success")
		if !ok {
			return
		}
		switchRecordListing.serve(w, r, func() []model.SwitchRecord {
			history := cp.GetSwitchHistory()
			records := make([]model.SwitchRecord, 0, len(history))
			for _, rec := range history {
				if success != nil && rec.Success != *success {
					continue
				}
				records = append(records, rec)
			}
			return records
		})
	}
}

// HandleGetSwitchRecord returns a handler for GET /api/v1/switch/history/{id}.
func HandleGetSwitchRecord(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := switchRecordIDOrWrite(w, r)
		if !ok {
			return
		}
		rec, err := cp.GetSwitchRecord(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
