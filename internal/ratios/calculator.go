package ratios

import (
	"context"
	"time"

	"github.com/sells-group/ratio-cli/internal/model"
)

// Calculator derives the computed ratios from two sanitized snapshots and
// returns the raw JSON object it produced. Implementations must yield null
// for any ratio whose inputs are missing or whose denominator is zero.
type Calculator interface {
	Name() string
	Calculate(ctx context.Context, in Input) ([]byte, error)
}

// Input is what a Calculator receives. Prior is empty when no prior-period
// record was found.
type Input struct {
	Ticker  string
	AsOf    time.Time
	Current model.SanitizedRecord
	Prior   model.SanitizedRecord
}
