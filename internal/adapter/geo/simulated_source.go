package geo

import (
	"context"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// SimulatedSource moves from a start point towards a destination in fixed
// steps, adding a little GPS noise to every reading. It stays at the
// destination once it arrives.
type SimulatedSource struct {
	mu     sync.Mutex
	faker  *gofakeit.Faker
	from   domain.Position
	to     domain.Position
	steps  int
	step   int
	jitter float64
	now    func() time.Time
}

func NewSimulatedSource(from, to domain.Position, steps int, seed uint64) *SimulatedSource {
	if steps <= 0 {
		steps = 1
	}
	return &SimulatedSource{
		faker:  gofakeit.New(seed),
		from:   from,
		to:     to,
		steps:  steps,
		jitter: 0.00005,
		now:    time.Now,
	}
}

// RandomRoute builds a short route around a random point.
func RandomRoute(steps int, seed uint64) *SimulatedSource {
	f := gofakeit.New(seed)
	lat, lng := f.Latitude(), f.Longitude()
	from := domain.Position{Latitude: lat, Longitude: lng}
	to := domain.Position{
		Latitude:  lat + f.Float64Range(-0.02, 0.02),
		Longitude: lng + f.Float64Range(-0.02, 0.02),
	}
	return NewSimulatedSource(from, to, steps, seed)
}

func (s *SimulatedSource) CurrentPosition(ctx context.Context, _ domain.PositionRequest) (domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return domain.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step < s.steps {
		s.step++
	}
	frac := float64(s.step) / float64(s.steps)

	return domain.Position{
		Latitude:  s.from.Latitude + (s.to.Latitude-s.from.Latitude)*frac + s.faker.Float64Range(-s.jitter, s.jitter),
		Longitude: s.from.Longitude + (s.to.Longitude-s.from.Longitude)*frac + s.faker.Float64Range(-s.jitter, s.jitter),
		Accuracy:  s.faker.Float64Range(3, 15),
		Timestamp: s.now().UTC(),
	}, nil
}

// Arrived reports whether the route has been walked to the end.
func (s *SimulatedSource) Arrived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step >= s.steps
}
