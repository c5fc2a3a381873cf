package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/salography/fast-alpr/internal/model"
)

// Sink writes JSON-encoded observations to stdout, one per line.
type Sink struct {
	enc *json.Encoder
}

// New creates a stdout sink. With pretty set, records are indented
// instead of single-line NDJSON.
func New(pretty bool) *Sink {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Sink{enc: enc}
}

func (s *Sink) Write(_ context.Context, obs model.Observation) error {
	if err := s.enc.Encode(obs); err != nil {
		return fmt.Errorf("stdout sink: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return nil
}
