package agg

import (
	"fmt"
	"os"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/models"
)

const csvHeader = "DateTime,Open,High,Low,Close,Volume\n"

// Appender appends closed bars to the per-symbol intraday CSVs so the EOD
// job and next-day replay consume exactly what the aggregator produced.
// Disabled (nil-safe) when ENABLE_AGG5 is off.
type Appender struct {
	pathFor func(symbol string) string
}

// NewAppender builds an appender over the intraday path layout.
func NewAppender(pathFor func(symbol string) string) *Appender {
	return &Appender{pathFor: pathFor}
}

// Append writes one bar row, creating the file with its header on first use.
func (a *Appender) Append(bar models.Bar) error {
	if a == nil {
		return nil
	}
	path := a.pathFor(bar.Symbol)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 -- path derives from validated config
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if os.IsNotExist(statErr) {
		if _, err := f.WriteString(csvHeader); err != nil {
			return fmt.Errorf("writing header to %s: %w", path, err)
		}
	}
	row := fmt.Sprintf("%s,%.2f,%.2f,%.2f,%.2f,%d\n",
		bar.Start.In(clock.IST()).Format("2006-01-02T15:04:05-0700"),
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("appending bar to %s: %w", path, err)
	}
	return nil
}
