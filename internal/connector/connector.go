// Package connector implements the polymorphic discovery layer over
// heterogeneous upstream municipal platforms (§4.B). A Connector is
// polymorphic over the single capability {discover}, generalizing the
// teacher's search.Provider capability interface from "search provider" to
// "document discovery provider" — shared HTTP/rate-limit behavior lives in
// the Gateway, not in a base class, per the corpus's own design note.
package connector

import (
	"context"
	"fmt"

	"github.com/hyperifyio/watchdog/internal/gateway"
	"github.com/hyperifyio/watchdog/internal/model"
)

// Connector discovers DocumentRefs from one configured Source.
type Connector interface {
	Discover(ctx context.Context) ([]model.DocumentRef, error)
}

// Constructor builds a Connector for a Source using the shared Gateway.
type Constructor func(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error)

// registry maps a platform tag to its Connector constructor, so the
// Scheduler never switches on platform tag directly (§4.B expansion).
var registry = map[model.Platform]Constructor{
	model.PlatformCloudNC: func(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error) {
		return &CloudNC{Source: src, Config: cfg, Gateway: gw}, nil
	},
	model.PlatformDynasty: func(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error) {
		return &Dynasty{Source: src, Config: cfg, Gateway: gw}, nil
	},
	model.PlatformTWeb: func(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error) {
		return &TWeb{Source: src, Config: cfg, Gateway: gw}, nil
	},
	model.PlatformMunicipalWebsite: func(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error) {
		return &MunicipalWebsite{Source: src, Config: cfg, Gateway: gw}, nil
	},
}

// ErrUnknownPlatform is returned by New when a Source names a platform tag
// with no registered Connector. This is a configuration error surfaced at
// Source-enable time, not a runtime panic (§4.B expansion).
type ErrUnknownPlatform struct {
	Platform model.Platform
}

func (e *ErrUnknownPlatform) Error() string {
	return fmt.Sprintf("connector: unknown platform %q", e.Platform)
}

// New builds the Connector registered for src.Platform.
func New(src model.Source, cfg model.SourceConfig, gw *gateway.Gateway) (Connector, error) {
	ctor, ok := registry[src.Platform]
	if !ok {
		return nil, &ErrUnknownPlatform{Platform: src.Platform}
	}
	return ctor(src, cfg, gw)
}
