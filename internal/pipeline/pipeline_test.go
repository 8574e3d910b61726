package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/caseward/forensics-cli/internal/annotate"
	"github.com/caseward/forensics-cli/internal/detect"
	"github.com/caseward/forensics-cli/internal/fetch"
	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/resilience"
	"github.com/caseward/forensics-cli/internal/store"
	"github.com/caseward/forensics-cli/pkg/textanalysis"
	"github.com/caseward/forensics-cli/pkg/textanalysis/mocks"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "forensics.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestPipeline(t *testing.T, st store.Store) *Pipeline {
	return newScoringPipeline(t, st, "model-test", 0.5)
}

// newScoringPipeline builds a pipeline whose collaborator reports the given
// model version and scores every text with the given sentiment.
func newScoringPipeline(t *testing.T, st store.Store, modelName string, sentiment float64) *Pipeline {
	t.Helper()
	client := mocks.NewMockClient(t)
	client.On("Model").Return(modelName).Maybe()
	client.On("Annotate", mock.Anything, mock.Anything).Return(
		func(_ context.Context, texts []string) []textanalysis.Result {
			out := make([]textanalysis.Result, len(texts))
			for i := range out {
				out[i] = textanalysis.Result{Sentiment: sentiment}
			}
			return out
		}, nil).Maybe()
	return pipelineWithClient(st, client)
}

// newFailingPipeline builds a pipeline whose collaborator reports the given
// model version but fails every Annotate call.
func newFailingPipeline(t *testing.T, st store.Store, modelName string) *Pipeline {
	t.Helper()
	client := mocks.NewMockClient(t)
	client.On("Model").Return(modelName).Maybe()
	client.On("Annotate", mock.Anything, mock.Anything).Return(nil, assert.AnError).Maybe()
	return pipelineWithClient(st, client)
}

func pipelineWithClient(st store.Store, client textanalysis.Client) *Pipeline {
	annotator := annotate.New(client, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}), annotate.Config{
		Retry: resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})
	return New(st, annotator, detect.New(detect.Config{}), fetch.Options{})
}

// writeMbox produces an archive of three parseable messages and one block
// with no From header.
func writeMbox(t *testing.T) string {
	t.Helper()
	var b []byte
	for i := 0; i < 3; i++ {
		b = append(b, []byte(fmt.Sprintf(
			"From alice@example.com Thu Mar  7 10:00:00 2024\n"+
				"From: alice@example.com\n"+
				"To: bob@example.com\n"+
				"Date: Thu, 07 Mar 2024 10:0%d:00 +0000\n"+
				"Subject: check-in %d\n"+
				"\n"+
				"message body %d\n", i, i, i))...)
	}
	b = append(b, []byte(
		"From - corrupted block\n"+
			"To: bob@example.com\n"+
			"\n"+
			"no sender recorded\n")...)

	path := filepath.Join(t.TempDir(), "export.mbox")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestIngest_Mailbox(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	res, err := p.Ingest(ctx, "case-1", writeMbox(t), model.KindMailbox)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 3, res.Extracted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, model.SourceStatusExtracted, res.Source.Status)
	assert.Len(t, res.Source.ContentSHA256, 64)

	src, err := st.GetSource(ctx, res.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusExtracted, src.Status)
	assert.Equal(t, 3, src.MessageCount)
	assert.Equal(t, 2, src.ParticipantCount)
	require.NotNil(t, src.EarliestMessage)
	require.NotNil(t, src.LatestMessage)
	assert.True(t, src.EarliestMessage.Before(*src.LatestMessage))

	entries, err := st.GetLedger(ctx, res.Source.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LedgerEventExtraction, entries[0].Event)
	assert.Equal(t, entries[0].Attempted, entries[0].Extracted+entries[0].Skipped)
	assert.Equal(t, res.Source.ContentSHA256, entries[0].ContentSHA256)
}

func TestIngest_UnreadableContainer(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "not-a-mailbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte("this is not mail\n"), 0o644))

	_, err := p.Ingest(ctx, "case-1", path, model.KindMailbox)
	require.Error(t, err)

	sources, err := st.ListSources(ctx, store.SourceFilter{CaseID: "case-1"})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, model.SourceStatusFailed, sources[0].Status)

	entries, err := st.GetLedger(ctx, sources[0].ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LedgerEventFailure, entries[0].Event)
	assert.NotEmpty(t, entries[0].Detail)
}

func TestIngest_MissingFile(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)

	_, err := p.Ingest(context.Background(), "case-1", "/nonexistent/archive.mbox", model.KindMailbox)
	require.Error(t, err)
}

func TestAnalyze_FullPass(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	ingested, err := p.Ingest(ctx, "case-1", writeMbox(t), model.KindMailbox)
	require.NoError(t, err)

	res, err := p.Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 3, res.Annotation.Submitted)
	assert.Equal(t, 3, res.Annotation.Annotated)
	require.NotNil(t, res.Graph)
	assert.Len(t, res.Graph.Nodes, 2) // alice and bob
	assert.Len(t, res.Graph.Edges, 1)

	src, err := st.GetSource(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusAnalyzed, src.Status)

	// Annotations were persisted.
	msgs, err := st.GetMessages(ctx, ingested.Source.ID, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.NotNil(t, m.Annotation)
		assert.Equal(t, "model-test", m.Annotation.Model)
	}

	stored, err := st.GetAnalysis(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)

	entries, err := st.GetLedger(ctx, ingested.Source.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.LedgerEventAnalysis, entries[1].Event)
}

func TestAnalyze_ReRunBumpsVersionAndSkipsAnnotated(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	ingested, err := p.Ingest(ctx, "case-1", writeMbox(t), model.KindMailbox)
	require.NoError(t, err)

	first, err := p.Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	second, err := p.Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 0, second.Annotation.Submitted)
	assert.Equal(t, 3, second.Annotation.Skipped)

	stored, err := st.GetAnalysis(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestAnalyze_ModelChangePersistsReannotations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ingested, err := newScoringPipeline(t, st, "model-a", 0.5).Ingest(ctx, "case-1", writeMbox(t), model.KindMailbox)
	require.NoError(t, err)

	first, err := newScoringPipeline(t, st, "model-a", 0.5).Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	// A newer collaborator model re-scores every message; the replacements
	// must reach the store, not just this run's graph.
	second, err := newScoringPipeline(t, st, "model-b", -0.9).Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 3, second.Annotation.Submitted)
	assert.Equal(t, 3, second.Annotation.Annotated)

	msgs, err := st.GetMessages(ctx, ingested.Source.ID, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.NotNil(t, m.Annotation)
		assert.Equal(t, "model-b", m.Annotation.Model)
		assert.InDelta(t, -0.9, m.Annotation.Sentiment, 1e-9)
	}

	// With the replacements stored, a third pass under the same model skips
	// everything instead of paying the collaborator again.
	third, err := newScoringPipeline(t, st, "model-b", -0.9).Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, third.Annotation.Submitted)
	assert.Equal(t, 3, third.Annotation.Skipped)
}

func TestAnalyze_CollaboratorOutageKeepsPriorScores(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ingested, err := newScoringPipeline(t, st, "model-a", 0.5).Ingest(ctx, "case-1", writeMbox(t), model.KindMailbox)
	require.NoError(t, err)

	first, err := newScoringPipeline(t, st, "model-a", 0.5).Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	// Re-analysis under a newer model while the collaborator is down: every
	// batch fails, the run still completes, and the stored scores survive.
	second, err := newFailingPipeline(t, st, "model-b").Analyze(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 3, second.Annotation.Submitted)
	assert.Equal(t, 0, second.Annotation.Annotated)
	assert.Equal(t, 3, second.Annotation.Unannotated)

	msgs, err := st.GetMessages(ctx, ingested.Source.ID, model.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.NotNil(t, m.Annotation)
		assert.Equal(t, "model-a", m.Annotation.Model)
		assert.InDelta(t, 0.5, m.Annotation.Sentiment, 1e-9)
	}

	stored, err := st.GetAnalysis(ctx, ingested.Source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	require.NotNil(t, stored.Graph)
	assert.Len(t, stored.Graph.Edges, 1)
}

func TestAnalyze_RejectsUnextractedSource(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	src := model.ForensicSource{
		ID:        "src-received",
		CaseID:    "case-1",
		Kind:      model.KindMailbox,
		Status:    model.SourceStatusReceived,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateSource(ctx, src))

	_, err := p.Analyze(ctx, src.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready for analysis")
}

func TestAnalyze_UnknownSource(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st)

	_, err := p.Analyze(context.Background(), "no-such-source")
	require.ErrorIs(t, err, store.ErrNotFound)
}
