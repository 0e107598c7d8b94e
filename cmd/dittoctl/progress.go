package main

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// newProgressBar renders transfer progress to w. A negative size shows a
// spinner instead of a percentage.
func newProgressBar(w io.Writer, size int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
	)
}

func finishProgress(bar *progressbar.ProgressBar) {
	_ = bar.Finish()
}
