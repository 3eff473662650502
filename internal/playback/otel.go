package playback

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fakeyudi/vidnote/internal/playback"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
