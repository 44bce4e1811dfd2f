package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/logger"
)

var (
	agents = []string{"Persona", "Planner", "Researcher", "Critic", "Summarizer"}
	models = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-flash-latest"}
	topics = []string{
		"draft a reply to the user",
		"summarize the last conversation turn",
		"list open questions about the plan",
		"critique the proposed answer for accuracy",
		"extract entities from the message",
	}
)

// Enqueuer submits calls; *governor.Governor implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, perform governor.PerformFunc, payload governor.Payload,
		meta governor.Metadata) (*governor.Result, error)
}

// Driver submits synthetic calls at a fixed interval until its context ends.
type Driver struct {
	gov      Enqueuer
	perform  governor.PerformFunc
	rng      *rand.Rand
	interval time.Duration
	burst    int
}

// NewDriver creates a driver. Each tick submits up to burst concurrent calls.
func NewDriver(gov Enqueuer, perform governor.PerformFunc, interval time.Duration, burst int, seed uint64) *Driver {
	if burst < 1 {
		burst = 1
	}
	return &Driver{
		gov:      gov,
		perform:  perform,
		interval: interval,
		burst:    burst,
		rng:      rand.New(rand.NewPCG(seed, seed+1)),
	}
}

// Run blocks until ctx is cancelled, then waits for submitted calls.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case <-ticker.C:
			n := 1 + d.rng.IntN(d.burst)
			for range n {
				agent := agents[d.rng.IntN(len(agents))]
				model := models[d.rng.IntN(len(models))]
				prompt := topics[d.rng.IntN(len(topics))]
				g.Go(func() error {
					_, err := d.gov.Enqueue(gctx, d.perform,
						governor.Payload{Body: prompt},
						governor.Metadata{AgentName: agent, Model: model, RequestPayload: prompt})
					if err != nil {
						logger.Debug("simulated call failed", "agent", agent, "model", model, "error", err)
					}
					return nil
				})
			}
		}
	}
}

// Prompt builds a numbered prompt, for callers generating their own load.
func Prompt(i int) string {
	return fmt.Sprintf("%s (#%d)", topics[i%len(topics)], i)
}
