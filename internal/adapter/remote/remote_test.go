package remote_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/adapter/remote"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/engine"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crs = "EPSG:3035"

var grid = domain.Grid{CRS: crs, OriginX: 0, OriginY: 20, Scale: 10, Width: 2, Height: 2}

var aoi = domain.AOI{
	CRS:     crs,
	Polygon: orb.Polygon{orb.Ring{{0, 0}, {20, 0}, {20, 20}, {0, 20}, {0, 0}}},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *engine.MemoryCatalog {
	return &engine.MemoryCatalog{
		Metas: []domain.SceneMeta{{ID: "a", Acquired: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), CloudyPixelPercentage: 1, Grid: grid}},
		Bands: map[string]domain.Raster{"a": {Grid: grid, Bands: []domain.Band{
			{Name: domain.BandRed, Data: []float64{0.1, 0.1, 0.1, math.NaN()}},
			{Name: domain.BandNIR, Data: []float64{0.3, 0.9, 0.1, 0.5}},
		}}},
		ClearScores: map[string]domain.Raster{"a": {Grid: grid, Bands: []domain.Band{
			{Name: domain.BandClearScore, Data: []float64{1, 1, 1, 1}},
		}}},
	}
}

func testGraph() domain.Node {
	filter := domain.SceneFilter{
		AOI:                aoi,
		StartYear:          2020,
		EndYear:            2020,
		Months:             domain.MonthWindow{Start: time.May, End: time.September},
		MaxCloudPercentage: 30,
	}
	coll := domain.CloudMaskNode{Source: domain.CollectionNode{Filter: filter}, Threshold: 0.6}
	ndvi := domain.IndexNode{Source: coll, A: domain.BandNIR, B: domain.BandRed, Out: domain.BandNDVI}
	return domain.MeanNode{Source: ndvi, Band: domain.BandNDVI}
}

func region() domain.Region {
	return domain.Region{AOI: aoi, CRS: crs, Scale: 10}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newCappedServer(t, 0)
}

func newCappedServer(t *testing.T, maxPixels int64) *httptest.Server {
	t.Helper()
	local := engine.NewLocal(testCatalog(), engine.Options{Workers: 2, TileSize: 1}, discardLogger(), observability.NewMetricsForTesting())
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+remote.EvaluatePath, remote.Handler(local, maxPixels, discardLogger()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string) *remote.Client {
	return remote.NewClient(url, 5*time.Second, discardLogger(), observability.NewMetricsForTesting())
}

func TestClient_Evaluate_RoundTrip(t *testing.T) {
	srv := newServer(t)

	r, err := newClient(srv.URL).Evaluate(context.Background(), testGraph(), region())
	require.NoError(t, err)

	assert.True(t, r.Grid.Aligned(grid))
	ndvi, err := r.Band(domain.BandNDVI)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ndvi.Data[0], 1e-9)
	assert.InDelta(t, 0.8, ndvi.Data[1], 1e-9)
	assert.InDelta(t, 0.0, ndvi.Data[2], 1e-9)
	assert.True(t, math.IsNaN(ndvi.Data[3]), "unobserved survives the wire")
}

func TestClient_Evaluate_MatchesLocal(t *testing.T) {
	srv := newServer(t)
	node := domain.PercentileNode{Source: testGraph(), Low: domain.PercentileLow, High: domain.PercentileHigh}

	viaRemote, err := newClient(srv.URL).Evaluate(context.Background(), node, region())
	require.NoError(t, err)
	local := engine.NewLocal(testCatalog(), engine.Options{Workers: 1}, discardLogger(), observability.NewMetricsForTesting())
	direct, err := local.Evaluate(context.Background(), node, region())
	require.NoError(t, err)

	if diff := cmp.Diff(direct, viaRemote, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("remote result mismatch (-local +remote):\n%s", diff)
	}
}

func TestClient_Evaluate_ServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Evaluate(context.Background(), testGraph(), region())
	require.Error(t, err)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "upstream unavailable", se.Message)
	assert.True(t, engine.IsTemporary(err))
}

func TestClient_Evaluate_RegionOverCapIsRefused(t *testing.T) {
	srv := newCappedServer(t, 3)

	_, err := newClient(srv.URL).Evaluate(context.Background(), testGraph(), region())
	require.Error(t, err)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.Contains(t, se.Message, "region of 4 pixels exceeds evaluation cap of 3 pixels")
	assert.False(t, engine.IsTemporary(err))

	_, err = newClient(srv.URL).Evaluate(context.Background(), testGraph(), domain.Region{AOI: aoi, CRS: crs, Scale: 20})
	require.NoError(t, err, "a coarser grid fits under the cap")
}

func TestClient_Evaluate_GraphErrorIsPermanent(t *testing.T) {
	srv := newServer(t)
	node := domain.PercentileNode{Source: testGraph(), Low: 2, High: 98, MaxPixels: 1}

	_, err := newClient(srv.URL).Evaluate(context.Background(), node, region())
	require.Error(t, err)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.False(t, engine.IsTemporary(err))
}

func TestClient_Evaluate_RetriedThroughDecorator(t *testing.T) {
	var calls atomic.Int32
	backend := newServer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		proxied, err := http.Post(backend.URL+r.URL.Path, "application/json", r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer proxied.Body.Close()
		w.WriteHeader(proxied.StatusCode)
		_, _ = io.Copy(w, proxied.Body)
	}))
	defer srv.Close()

	policy := engine.RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
	p := engine.NewRetrying(newClient(srv.URL), policy, discardLogger(), observability.NewMetricsForTesting())

	_, err := p.Evaluate(context.Background(), testGraph(), region())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Evaluate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Evaluate(context.Background(), testGraph(), region())
	require.Error(t, err)
	assert.True(t, engine.IsTemporary(err))
}

func TestHandler_RejectsMalformedRequest(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Post(srv.URL+remote.EvaluatePath, "application/json", strings.NewReader(`{"graph":{"op":"bogus"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body remote.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "bogus")
}

func TestRequest_DecodeFullGraph(t *testing.T) {
	stats := domain.PercentileStats{Low: 0.1, High: 0.7, Samples: 40}
	masked := domain.UpdateMaskNode{
		Source: domain.ClipNode{Source: testGraph(), AOI: aoi},
		Mask:   domain.LandCoverNode{Primary: "clc", Secondary: "wc", Classes: domain.DefaultLandCoverClasses},
	}
	node := domain.RescaleNode{Source: masked, Stats: stats}

	body, err := remote.MarshalRequest(node, region())
	require.NoError(t, err)
	var req remote.Request
	require.NoError(t, json.Unmarshal(body, &req))

	gotNode, gotRegion, err := req.Decode()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(node, gotNode))
	assert.Empty(t, cmp.Diff(region(), gotRegion))
}

func TestRequest_EmptyStatsSurviveWire(t *testing.T) {
	empty := domain.PercentileStats{Low: math.NaN(), High: math.NaN()}
	node := domain.RescaleNode{Source: testGraph(), Stats: empty}

	body, err := remote.MarshalRequest(node, region())
	require.NoError(t, err)
	var req remote.Request
	require.NoError(t, json.Unmarshal(body, &req))

	got, _, err := req.Decode()
	require.NoError(t, err)
	assert.True(t, got.(domain.RescaleNode).Stats.Empty())
}
