package simulation

import (
	"context"

	"cosmossdk.io/log"

	"github.com/iosh/dryrun/types"
)

// Service is the process-wide simulation facade shared by all RPC handlers.
// It owns the simulator and, through it, the ABI registry and the upstream
// connection pool; everything else lives and dies with a single request.
type Service struct {
	simulator *Simulator
}

// NewService builds the service over an upstream provider.
func NewService(provider Provider, abiLookupURL string, logger log.Logger) *Service {
	registry := NewAbiRegistry(abiLookupURL, logger)
	return &Service{
		simulator: NewSimulator(provider, registry, logger),
	}
}

// RunEvmSimulation executes one dry-run request.
func (s *Service) RunEvmSimulation(ctx context.Context, input *types.EvmSimulateInput) (*types.EvmSimulateOutput, error) {
	return s.simulator.Simulate(ctx, input)
}
