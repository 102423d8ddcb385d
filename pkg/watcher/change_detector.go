package watcher

// ChangeAnalysis describes what changed and what has to be redone
type ChangeAnalysis struct {
	NeedConfigReload bool
	NeedRebuild      bool // Ingest the export again, ignoring the snapshot
	ChangedFiles     []string
}

// AnalyzeChanges determines the work a change event calls for
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	switch event.Type {
	case ChangeTypeExport:
		// The snapshot describes the old export now
		analysis.NeedRebuild = true

	case ChangeTypeConfig:
		// Settings such as the row limit affect the registry too
		analysis.NeedConfigReload = true
		analysis.NeedRebuild = true
	}

	return analysis
}
