package assets

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"modelhub_back/metrics"
)

// SweepReport summarizes one orphan-file sweep.
type SweepReport struct {
	Scanned    int      `json:"scanned"`
	Referenced int      `json:"referenced"`
	TooRecent  int      `json:"tooRecent"`
	Orphans    []string `json:"orphans"`
	Removed    int      `json:"removed"`
	Failed     int      `json:"failed"`
	DryRun     bool     `json:"dryRun"`
}

// SweepOrphans removes stored files that no Model or Material references and that are
// older than grace. Files younger than grace are kept: they may belong to an upload whose
// attach request has not arrived yet. With dryRun set nothing is removed.
func (s *Service) SweepOrphans(ctx context.Context, grace time.Duration, dryRun bool) (SweepReport, error) {
	report := SweepReport{DryRun: dryRun, Orphans: []string{}}

	entries, err := s.files.List(ctx)
	if err != nil {
		return report, &Failure{Kind: ErrStorage, Message: "list stored files failed", Cause: err}
	}
	modelRefs, err := s.models.ReferencedPaths(ctx)
	if err != nil {
		return report, err
	}
	materialRefs, err := s.materials.ReferencedPaths(ctx)
	if err != nil {
		return report, err
	}

	referenced := make(map[string]struct{}, len(modelRefs)+len(materialRefs))
	for _, ref := range append(modelRefs, materialRefs...) {
		if name := referencedName(ref); name != "" {
			referenced[name] = struct{}{}
		}
	}

	cutoff := s.now().Add(-grace)
	for _, entry := range entries {
		report.Scanned++
		if _, ok := referenced[entry.Name]; ok {
			report.Referenced++
			continue
		}
		if entry.ModTime.After(cutoff) {
			report.TooRecent++
			continue
		}
		report.Orphans = append(report.Orphans, entry.Ref)
		if dryRun {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !s.files.Remove(ctx, entry.Ref) {
			report.Failed++
			continue
		}
		metrics.OrphanFilesSwept.Inc()
		report.Removed++
	}

	s.logger.WithFields(logrus.Fields{
		"scanned":    report.Scanned,
		"referenced": report.Referenced,
		"too_recent": report.TooRecent,
		"orphans":    len(report.Orphans),
		"removed":    report.Removed,
		"failed":     report.Failed,
		"dry_run":    dryRun,
	}).Info("assets: orphan sweep finished")
	return report, nil
}

// referencedName reduces a stored reference to the flat file name it points at. Records
// may hold references with or without the leading slash.
func referencedName(ref string) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(ref, "\\", "/"))
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
