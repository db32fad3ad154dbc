package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmehdipour/newsletter/internal/model"
	"github.com/jmehdipour/newsletter/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportsStub struct {
	gotSlug   string
	gotStatus model.DeliveryStatus
	gotLimit  int
	gotOffset int
	rows      []repository.DeliveryEventRow
	err       error
}

func (r *reportsStub) InsertBatch(context.Context, []model.DeliveryEvent) error { return nil }

func (r *reportsStub) ListByPost(_ context.Context, slug string, status model.DeliveryStatus, limit, offset int) ([]repository.DeliveryEventRow, error) {
	r.gotSlug, r.gotStatus, r.gotLimit, r.gotOffset = slug, status, limit, offset
	return r.rows, r.err
}

func reportsServer(stub *reportsStub) *Server {
	return NewServer(Deps{
		Authors:  authorsStub{testKey: {ID: "a1", APIKey: testKey, Status: "active"}},
		Reports:  stub,
		Gatherer: prometheus.NewRegistry(),
	})
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestReportsRequireSlug(t *testing.T) {
	rec := get(reportsServer(&reportsStub{}), "/v1/reports/deliveries")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportsParams(t *testing.T) {
	stub := &reportsStub{rows: []repository.DeliveryEventRow{{DeliveryID: "d1", Slug: "hello", Status: "sent", Attempt: 1}}}

	rec := get(reportsServer(stub), "/v1/reports/deliveries?slug=hello&status=sent&limit=10&offset=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", stub.gotSlug)
	assert.Equal(t, model.DeliverySent, stub.gotStatus)
	assert.Equal(t, 10, stub.gotLimit)
	assert.Equal(t, 20, stub.gotOffset)
	assert.Contains(t, rec.Body.String(), `"count":1`)
	assert.Contains(t, rec.Body.String(), `"delivery_id":"d1"`)
}

func TestReportsIgnoresBadParams(t *testing.T) {
	stub := &reportsStub{}

	rec := get(reportsServer(stub), "/v1/reports/deliveries?slug=hello&status=bogus&limit=-1&offset=x")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DeliveryStatus(""), stub.gotStatus)
	assert.Equal(t, 50, stub.gotLimit)
	assert.Equal(t, 0, stub.gotOffset)
}

func TestReportsQueryError(t *testing.T) {
	rec := get(reportsServer(&reportsStub{err: errors.New("boom")}), "/v1/reports/deliveries?slug=hello")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
