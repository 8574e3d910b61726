//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/store"
)

func newServeTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedAnalyzedSource(t *testing.T, st store.Store) model.ForensicSource {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	src := model.ForensicSource{
		ID:            "src-serve-1",
		CaseID:        "case-api",
		Kind:          model.KindMailbox,
		Status:        model.SourceStatusExtracting,
		OriginalName:  "export.mbox",
		ContentSHA256: "deadbeef",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateSource(ctx, src))

	sent := now.Add(-time.Hour)
	msgs := []model.Message{
		{ID: "m1", SourceID: src.ID, Sender: "alice@example.com", Recipients: []string{"bob@example.com"}, SentAt: &sent, Body: "hello bob"},
		{ID: "m2", SourceID: src.ID, Sender: "bob@example.com", Recipients: []string{"alice@example.com"}, SentAt: &now, Body: "hello alice"},
	}
	participants := []model.Participant{
		{ID: "p1", SourceID: src.ID, Raw: "Alice@Example.com", Resolved: "alice@example.com", Kind: "email"},
		{ID: "p2", SourceID: src.ID, Raw: "bob@example.com", Resolved: "bob@example.com", Kind: "email"},
	}
	entry := model.LedgerEntry{
		SourceID:      src.ID,
		Event:         model.LedgerEventExtraction,
		ContentSHA256: src.ContentSHA256,
		Attempted:     2,
		Extracted:     2,
	}
	require.NoError(t, st.CommitExtraction(ctx, src, msgs, participants, entry))

	g := &model.NetworkGraph{
		SourceID: src.ID,
		Nodes:    []model.GraphNode{{Participant: "alice@example.com", Degree: 1, CentralityRank: 1, Centrality: 1.0}},
		Edges:    []model.GraphEdge{{A: "alice@example.com", B: "bob@example.com", MessageCount: 2}},
		BuiltAt:  now,
	}
	alerts := []model.PatternAlert{{
		ID:            "a1",
		SourceID:      src.ID,
		Kind:          model.AlertDeletedCluster,
		Severity:      model.SeverityLow,
		Participants:  []string{"alice@example.com"},
		MessageIDs:    []string{"m1"},
		Justification: "3 deleted messages within 60m",
		DetectedAt:    now,
	}}
	_, err := st.SaveAnalysis(ctx, src.ID, g, alerts)
	require.NoError(t, err)

	return src
}

func TestBuildRouter_Health(t *testing.T) {
	r := buildRouter(newServeTestStore(t))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_ListSources(t *testing.T) {
	st := newServeTestStore(t)
	seedAnalyzedSource(t, st)
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources?case=case-api", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var sources []model.ForensicSource
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "src-serve-1", sources[0].ID)
	assert.Equal(t, model.SourceStatusAnalyzed, sources[0].Status)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources?case=other-case", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sources))
	assert.Empty(t, sources)
}

func TestBuildRouter_GetSource_NotFound(t *testing.T) {
	r := buildRouter(newServeTestStore(t))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "source not found")
}

func TestBuildRouter_Messages(t *testing.T) {
	st := newServeTestStore(t)
	src := seedAnalyzedSource(t, st)
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/messages?contains=bob", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []model.AnnotatedMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestBuildRouter_Messages_BadFilter(t *testing.T) {
	st := newServeTestStore(t)
	src := seedAnalyzedSource(t, st)
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/messages?after=not-a-time", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_GraphAndAlerts(t *testing.T) {
	st := newServeTestStore(t)
	src := seedAnalyzedSource(t, st)
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/graph", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var g model.NetworkGraph
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &g))
	require.Len(t, g.Edges, 1)
	assert.Equal(t, 2, g.Edges[0].MessageCount)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/alerts", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var alerts []model.PatternAlert
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertDeletedCluster, alerts[0].Kind)
}

func TestBuildRouter_Graph_NotAnalyzed(t *testing.T) {
	st := newServeTestStore(t)
	ctx := context.Background()
	src := model.ForensicSource{
		ID:            "src-unanalyzed",
		CaseID:        "case-api",
		Kind:          model.KindVault,
		Status:        model.SourceStatusExtracted,
		ContentSHA256: "cafe",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CreateSource(ctx, src))
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/graph", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "no completed analysis")
}

func TestBuildRouter_Ledger(t *testing.T) {
	st := newServeTestStore(t)
	src := seedAnalyzedSource(t, st)
	r := buildRouter(st)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sources/"+src.ID+"/ledger", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var entries []model.LedgerEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.LedgerEventExtraction, entries[0].Event)
}

func TestMessageFilterFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/sources/x/messages?after=2024-01-01T00:00:00Z&participant=alice@example.com&min_sentiment=-0.5&limit=10&offset=5", nil)

	filter, err := messageFilterFromQuery(req)
	require.NoError(t, err)
	require.NotNil(t, filter.After)
	assert.Equal(t, 2024, filter.After.Year())
	assert.Equal(t, "alice@example.com", filter.Participant)
	require.NotNil(t, filter.MinSentiment)
	assert.InDelta(t, -0.5, *filter.MinSentiment, 1e-9)
	assert.Nil(t, filter.MaxSentiment)
	assert.Equal(t, 10, filter.Limit)
	assert.Equal(t, 5, filter.Offset)
}
