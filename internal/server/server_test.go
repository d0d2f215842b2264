package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/shiprecon/internal/config"
	"github.com/rpattn/shiprecon/internal/dictionary"
	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/internal/logging"
	"github.com/rpattn/shiprecon/internal/pipeline"
	"github.com/rpattn/shiprecon/internal/repository"
	"github.com/rpattn/shiprecon/internal/repository/memory"
)

const sampleCSV = "Container No,Carrier,Status\n" +
	"MSKU1234567,Maersk,Arrived\n" +
	"TGHU7654321,ONE,Discharged\n" +
	",ONE,Arrived\n"

type staticDictionary struct{ snap *dictionary.Snapshot }

func (s staticDictionary) Current() *dictionary.Snapshot { return s.snap }

func newTestServer(t *testing.T) (*Server, repository.Store) {
	t.Helper()
	store := memory.NewStore()
	runner := pipeline.NewRunner(store, nil, staticDictionary{dictionary.Default()}, pipeline.Options{
		Pipeline: config.Default().Pipeline,
	})
	nop := logging.Nop
	return New(store, runner, config.Default().Server, &nop), store
}

func upload(t *testing.T, h http.Handler, name, content string) UploadResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("source", "carrier-a"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/batches", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestUploadRunsBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	resp := upload(t, h, "june.csv", sampleCSV)
	assert.Equal(t, 3, resp.Rows)
	srv.Wait()

	rec := get(h, "/batches/"+resp.BatchID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var batch domain.ImportBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	assert.Equal(t, "carrier-a", batch.SourceName)
	assert.Equal(t, domain.BatchCounters{Processed: 3, Succeeded: 2, Dropped: 1}, batch.Counters)

	rec = get(h, "/batches/"+resp.BatchID.String()+"/rows")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []domain.RawRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 3)

	rec = get(h, "/batches")
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []domain.ImportBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	assert.Len(t, batches, 1)
}

func TestGetContainerNormalizesNumber(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	upload(t, h, "june.csv", sampleCSV)
	srv.Wait()

	rec := get(h, "/containers/msku-1234567")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view ContainerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "MSKU1234567", view.Container.ContainerNumber)
	assert.Equal(t, domain.StageArrived, view.Container.Stage)
	assert.NotEmpty(t, view.Events)
	assert.LessOrEqual(t, view.Health, 100)
}

func TestNotFoundAndBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, get(h, "/batches/6f1c1f3e-8d8e-4f4c-9a55-2f0a3e7d9b10").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/batches/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/containers/ZZZZ9999999").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/containers/ab").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/batches?limit=0").Code)
}

func TestEditAndUnlockContainer(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	upload(t, h, "june.csv", sampleCSV)
	srv.Wait()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/containers/TGHU7654321", strings.NewReader(`{"vessel":"Maersk Alba"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view ContainerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Maersk Alba", view.Container.Fields[domain.FieldVessel])
	assert.Contains(t, view.Container.LockedFields, domain.FieldVessel)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/containers/TGHU7654321", strings.NewReader(`{"container_number":"X"}`))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/containers/TGHU7654321/unlock", strings.NewReader(`{"fields":["vessel"]}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = ContainerView{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.NotContains(t, view.Container.LockedFields, domain.FieldVessel)
}

func TestEditAndUnlockShipment(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	upload(t, h, "bl.csv", "Container No,Carrier,BL No\nMSKU1234567,Maersk,MAEU123456\n")
	srv.Wait()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/shipments/MAEU123456", strings.NewReader(`{"carrier":"Manual Line"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var shipment domain.Shipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipment))
	assert.Equal(t, "Manual Line", shipment.Fields[domain.FieldCarrier])
	assert.Equal(t, []string{domain.FieldCarrier}, shipment.LockedFields)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/shipments/NOPE1", strings.NewReader(`{"carrier":"X"}`))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/shipments/MAEU123456/unlock", strings.NewReader(`{"fields":["carrier"]}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	shipment = domain.Shipment{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipment))
	assert.Empty(t, shipment.LockedFields)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/batches", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUploadDisabledWithoutRunner(t *testing.T) {
	nop := logging.Nop
	srv := New(memory.NewStore(), nil, config.Default().Server, &nop)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batches", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Run(ctx))
}
