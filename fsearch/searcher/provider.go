package searcher

import (
	"context"

	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"
)

type registryProvider struct {
	reg *volume.Registry
}

// FromRegistry adapts a volume registry to a Provider.
func FromRegistry(reg *volume.Registry) Provider {
	return registryProvider{reg: reg}
}

func (p registryProvider) Discover(ctx context.Context) ([]string, error) {
	return p.reg.Discover(ctx)
}

func (p registryProvider) Open(ctx context.Context, id string) (Volume, error) {
	v, err := p.reg.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return v, nil
}
