package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseward/forensics-cli/internal/adapter"
	"github.com/caseward/forensics-cli/internal/annotate"
	"github.com/caseward/forensics-cli/internal/detect"
	"github.com/caseward/forensics-cli/internal/fetch"
	"github.com/caseward/forensics-cli/internal/graph"
	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/normalize"
	"github.com/caseward/forensics-cli/internal/store"
)

// Pipeline orchestrates ingestion and analysis of forensic sources.
type Pipeline struct {
	store     store.Store
	annotator *annotate.Annotator
	detector  *detect.Detector
	fetchOpts fetch.Options
}

// New creates a Pipeline with all dependencies.
func New(st store.Store, annotator *annotate.Annotator, detector *detect.Detector, fetchOpts fetch.Options) *Pipeline {
	return &Pipeline{
		store:     st,
		annotator: annotator,
		detector:  detector,
		fetchOpts: fetchOpts,
	}
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	Source    model.ForensicSource
	Attempted int
	Extracted int
	Skipped   int
}

// Ingest registers an archive for a case and extracts its messages. Origin
// is a local path or an http/https/ftp URL; remote archives are spooled to
// a temp file first. Corrupt records are skipped and counted; an unreadable
// container marks the source failed. Both outcomes leave a ledger entry.
func (p *Pipeline) Ingest(ctx context.Context, caseID, origin string, kind model.SourceKind) (*IngestResult, error) {
	log := zap.L().With(zap.String("case_id", caseID), zap.String("origin", origin), zap.String("kind", string(kind)))

	path, cleanup, err := p.localize(ctx, origin)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sum, err := hashFile(path)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	src := model.ForensicSource{
		ID:            uuid.New().String(),
		CaseID:        caseID,
		Kind:          kind,
		Status:        model.SourceStatusReceived,
		OriginalName:  filepath.Base(origin),
		ContentSHA256: sum,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.CreateSource(ctx, src); err != nil {
		return nil, eris.Wrap(err, "pipeline: create source")
	}
	log = log.With(zap.String("source_id", src.ID))
	log.Info("pipeline: source registered", zap.String("sha256", sum))

	if err := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceStatusExtracting, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark extracting")
	}

	res, err := p.extract(ctx, src, path)
	if err != nil {
		detail := err.Error()
		if statusErr := p.store.UpdateSourceStatus(ctx, src.ID, model.SourceStatusFailed, detail); statusErr != nil {
			log.Warn("pipeline: failed to record failure status", zap.Error(statusErr))
		}
		entry := model.LedgerEntry{
			SourceID:      src.ID,
			Event:         model.LedgerEventFailure,
			ContentSHA256: sum,
			Attempted:     res.Attempted,
			Extracted:     res.Extracted,
			Skipped:       res.Skipped,
			Detail:        detail,
		}
		if ledgerErr := p.store.AppendLedger(ctx, entry); ledgerErr != nil {
			log.Warn("pipeline: failed to record failure ledger entry", zap.Error(ledgerErr))
		}
		log.Error("pipeline: extraction failed", zap.Error(err))
		return nil, err
	}

	log.Info("pipeline: extraction complete",
		zap.Int("attempted", res.Attempted),
		zap.Int("extracted", res.Extracted),
		zap.Int("skipped", res.Skipped),
	)

	src.Status = model.SourceStatusExtracted
	src.MessageCount = res.Extracted
	src.ParticipantCount = len(res.Participants)
	return &IngestResult{
		Source:    src,
		Attempted: res.Attempted,
		Extracted: res.Extracted,
		Skipped:   res.Skipped,
	}, nil
}

// extract parses the archive and commits messages, participants, and the
// extraction ledger entry in one transaction.
func (p *Pipeline) extract(ctx context.Context, src model.ForensicSource, path string) (*normalize.Result, error) {
	adp, err := adapter.For(src.Kind)
	if err != nil {
		return &normalize.Result{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return &normalize.Result{}, eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close()

	records, errs := adp.Parse(ctx, f)
	res, err := normalize.Consume(ctx, src.ID, records, errs)
	if err != nil {
		return res, err
	}

	src.EarliestMessage = res.Earliest
	src.LatestMessage = res.Latest
	entry := model.LedgerEntry{
		SourceID:      src.ID,
		Event:         model.LedgerEventExtraction,
		ContentSHA256: src.ContentSHA256,
		Attempted:     res.Attempted,
		Extracted:     res.Extracted,
		Skipped:       res.Skipped,
	}
	if err := p.store.CommitExtraction(ctx, src, res.Messages, res.Participants, entry); err != nil {
		return res, err
	}
	return res, nil
}

// AnalyzeResult reports what one analysis run produced.
type AnalyzeResult struct {
	Version    int
	Graph      *model.NetworkGraph
	Alerts     []model.PatternAlert
	Annotation annotate.Stats
}

// Analyze runs annotation, graph construction, and pattern detection over an
// extracted source and stores the outputs as a new analysis version. The
// previous version stays readable until the new one is committed, so a
// cancelled run leaves the stored analysis untouched.
func (p *Pipeline) Analyze(ctx context.Context, sourceID string) (*AnalyzeResult, error) {
	log := zap.L().With(zap.String("source_id", sourceID))

	src, err := p.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	switch src.Status {
	case model.SourceStatusExtracted, model.SourceStatusAnalyzed:
	default:
		return nil, eris.Errorf("pipeline: source %s is %s, not ready for analysis", sourceID, src.Status)
	}

	if err := p.store.UpdateSourceStatus(ctx, sourceID, model.SourceStatusAnalyzing, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark analyzing")
	}

	result, err := p.analyze(ctx, src, log)
	if err != nil {
		// Restore the pre-analysis status so a transient failure (or a
		// cancel) does not strand the source in "analyzing".
		if statusErr := p.store.UpdateSourceStatus(ctx, sourceID, src.Status, err.Error()); statusErr != nil {
			log.Warn("pipeline: failed to restore status", zap.Error(statusErr))
		}
		log.Error("pipeline: analysis failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) analyze(ctx context.Context, src *model.ForensicSource, log *zap.Logger) (*AnalyzeResult, error) {
	msgs, err := p.store.GetMessages(ctx, src.ID, model.MessageFilter{})
	if err != nil {
		return nil, err
	}

	annotated, stats, err := p.annotator.Run(ctx, msgs)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: annotation pass complete",
		zap.Int("submitted", stats.Submitted),
		zap.Int("annotated", stats.Annotated),
		zap.Int("already_annotated", stats.Skipped),
		zap.Int("unannotated", stats.Unannotated),
	)

	// Persist every annotation the collaborator produced this run: both
	// first-time scores and replacements written because the stored one came
	// from an older model version.
	fresh := make(map[string]model.Annotation, stats.Annotated)
	for i, m := range annotated {
		if m.Annotation == nil {
			continue
		}
		if prev := msgs[i].Annotation; prev == nil || prev.Model != m.Annotation.Model {
			fresh[m.ID] = *m.Annotation
		}
	}
	if err := p.store.UpsertAnnotations(ctx, src.ID, fresh); err != nil {
		return nil, err
	}

	g := graph.Build(src.ID, annotated)
	alerts := p.detector.Run(src.ID, annotated)

	version, err := p.store.SaveAnalysis(ctx, src.ID, g, alerts)
	if err != nil {
		return nil, err
	}

	entry := model.LedgerEntry{
		SourceID:      src.ID,
		Event:         model.LedgerEventAnalysis,
		ContentSHA256: src.ContentSHA256,
		Attempted:     stats.Submitted,
		Extracted:     stats.Annotated + stats.Skipped,
		Skipped:       stats.Unannotated,
		Detail:        fmt.Sprintf("version %d, %d alerts", version, len(alerts)),
	}
	if err := p.store.AppendLedger(ctx, entry); err != nil {
		log.Warn("pipeline: failed to record analysis ledger entry", zap.Error(err))
	}

	log.Info("pipeline: analysis complete",
		zap.Int("version", version),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
		zap.Int("alerts", len(alerts)),
	)
	return &AnalyzeResult{
		Version:    version,
		Graph:      g,
		Alerts:     alerts,
		Annotation: stats,
	}, nil
}

// localize returns a local path for the origin, downloading it first when it
// is a remote URL. The cleanup func removes any temp file.
func (p *Pipeline) localize(ctx context.Context, origin string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, or a Windows drive letter that url.Parse reads as a
		// scheme.
		return origin, noop, nil
	}

	fetcher, err := fetch.For(origin, p.fetchOpts)
	if err != nil {
		return "", noop, err
	}

	tmp, err := os.CreateTemp("", "forensics-archive-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "pipeline: create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	cleanup := func() { os.Remove(tmpPath) }

	n, err := fetcher.DownloadToFile(ctx, origin, tmpPath)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Info("pipeline: archive downloaded", zap.String("origin", origin), zap.Int64("bytes", n))
	return tmpPath, cleanup, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrap(err, "pipeline: hash archive")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
