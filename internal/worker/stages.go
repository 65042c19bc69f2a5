package worker

import (
	"fmt"
	"strings"

	"spool/internal/services/ytdlp"
)

// Stage texts surfaced to subscribers. Download progress occupies the
// 10-70 band; conversion and finalization get fixed checkpoints since the
// engine reports no granular progress for them.
const (
	stageFetchInfo  = "Fetching source info..."
	stageConverting = "Converting audio..."
	stageFinalizing = "Finalizing..."

	stageFetchPercent    = 5.0
	downloadFloorPercent = 10.0
	downloadCeilPercent  = 70.0
	stageConvertPercent  = 75.0
	stageFinalizePercent = 85.0
)

// downloadStage maps an engine download update into the job's progress band
// with a speed-annotated stage text.
func downloadStage(update ytdlp.Progress) (float64, string) {
	fraction := update.Percent / 100
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	percent := downloadFloorPercent + fraction*(downloadCeilPercent-downloadFloorPercent)

	stage := "Downloading..."
	if speed := strings.TrimSpace(update.Speed); speed != "" && speed != "N/A" {
		stage = fmt.Sprintf("Downloading... (%s)", speed)
	}
	return percent, stage
}
