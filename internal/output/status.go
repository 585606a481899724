package output

import (
	"context"
	"fmt"
	"time"
)

func StatusBar(ctx context.Context, refreshRate time.Duration, printF func()) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printF()
		case <-ctx.Done():
			return
		}
	}
}

// PrettyCaptureStatus renders the capture status line. A zero total means the
// capture runs until interrupted and no progress bar is drawn.
func PrettyCaptureStatus(elapsed, total, maxFrame, avgFrame time.Duration) string {
	progress := fmt.Sprintf("Capturing: %8s", elapsed.Truncate(time.Millisecond))
	if total > 0 {
		percent := int(elapsed * 100 / total)
		progress = fmt.Sprintf("Capturing: [%s] %3d%%", ProgressBar(percent, 30), min(percent, 100))
	}

	return fmt.Sprintf("\r%-45s %-22s %-22s",
		progress,
		fmt.Sprintf("Frame max: %s", maxFrame.Truncate(time.Microsecond)),
		fmt.Sprintf("Frame avg: %s", avgFrame.Truncate(time.Microsecond)),
	)
}
