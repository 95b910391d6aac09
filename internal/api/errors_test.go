package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sdhr-guard/sdhr/internal/service"
)

func TestServiceErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid", err: &service.ServiceError{Code: service.CodeInvalidArgument, Message: "m"}, wantStatus: http.StatusBadRequest, wantCode: service.CodeInvalidArgument},
		{name: "not found", err: &service.ServiceError{Code: service.CodeNotFound, Message: "m"}, wantStatus: http.StatusNotFound, wantCode: service.CodeNotFound},
		{name: "conflict", err: &service.ServiceError{Code: service.CodeConflict, Message: "m"}, wantStatus: http.StatusConflict, wantCode: service.CodeConflict},
		{name: "unknown code", err: &service.ServiceError{Code: "TEAPOT", Message: "m"}, wantStatus: http.StatusInternalServerError, wantCode: "TEAPOT"},
		{name: "plain error", err: errors.New("driver exploded"), wantStatus: http.StatusInternalServerError, wantCode: service.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := serviceErrorDetail(tt.err)
			if status != tt.wantStatus || detail.Code != tt.wantCode {
				t.Fatalf("got %d %+v, want %d %s", status, detail, tt.wantStatus, tt.wantCode)
			}
			if detail.Message == "driver exploded" {
				t.Fatal("non-service error text must not leak")
			}
		})
	}
}

func TestWriteControllerError_NamesController(t *testing.T) {
	rec := httptest.NewRecorder()
	writeControllerError(rec, "odl-1", &service.ServiceError{Code: service.CodeNotFound, Message: "controller not found"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatal(err)
	}
	want := ErrorDetail{Code: service.CodeNotFound, Message: "controller not found", Controller: "odl-1"}
	if er.Error != want {
		t.Fatalf("got %+v, want %+v", er.Error, want)
	}
}
