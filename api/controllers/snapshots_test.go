package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adpilot-hq/adpilot-backend/internal/snapshots"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

type testSnapshotsService struct {
	listFn func(ctx context.Context, params snapshots.ListParams) (*snapshots.ListResult, error)
}

func (s *testSnapshotsService) List(ctx context.Context, params snapshots.ListParams) (*snapshots.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &snapshots.ListResult{}, nil
}

func TestListSnapshotsRequiresAccountID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots", nil)
	resp := httptest.NewRecorder()
	ListSnapshots(&testSnapshotsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListSnapshotsPassesFilters(t *testing.T) {
	var gotParams snapshots.ListParams
	svc := &testSnapshotsService{
		listFn: func(ctx context.Context, params snapshots.ListParams) (*snapshots.ListResult, error) {
			gotParams = params
			return &snapshots.ListResult{NextCursor: "next-page"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?account_id=act_9&ad_id=ad_1&date=2025-06-02&limit=25&cursor=abc", nil)
	resp := httptest.NewRecorder()
	ListSnapshots(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gotParams.AdvertiserAccountID != "act_9" {
		t.Fatalf("unexpected account %q", gotParams.AdvertiserAccountID)
	}
	if gotParams.AdID != "ad_1" {
		t.Fatalf("unexpected ad %q", gotParams.AdID)
	}
	if gotParams.Date != "2025-06-02" {
		t.Fatalf("unexpected date %q", gotParams.Date)
	}
	if gotParams.Limit != 25 {
		t.Fatalf("unexpected limit %d", gotParams.Limit)
	}
	if gotParams.Cursor != "abc" {
		t.Fatalf("unexpected cursor %q", gotParams.Cursor)
	}

	var envelope struct {
		Data struct {
			NextCursor string `json:"next_cursor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.NextCursor != "next-page" {
		t.Fatalf("unexpected cursor %q", envelope.Data.NextCursor)
	}
}

func TestListSnapshotsRejectsBadLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?account_id=act_9&limit=0", nil)
	resp := httptest.NewRecorder()
	ListSnapshots(&testSnapshotsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListSnapshotsSurfacesServiceError(t *testing.T) {
	svc := &testSnapshotsService{
		listFn: func(ctx context.Context, params snapshots.ListParams) (*snapshots.ListResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "date must be YYYY-MM-DD")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?account_id=act_9&date=junk", nil)
	resp := httptest.NewRecorder()
	ListSnapshots(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
