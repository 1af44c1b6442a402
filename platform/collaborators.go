package platform

import "context"

// DiscoveryResult is one provider's discovered resource set.
type DiscoveryResult struct {
	Provider  string           `json:"provider"`
	Resources []map[string]any `json:"resources"`
}

// DiscoverySource finds the resources to collect telemetry from. External
// collaborators implement it; the pipeline only consumes the results.
type DiscoverySource interface {
	Discover(ctx context.Context, provider string) (DiscoveryResult, error)
}

// TransformFunc converts one discovered resource into a telemetry record.
type TransformFunc func(resource map[string]any) (map[string]any, error)

// GenerateFunc produces one synthetic record for one entity of a scenario.
type GenerateFunc func(ctx context.Context, scenario string, entity int) (map[string]any, error)

// EnrichFunc post-processes a generated record before it is buffered.
type EnrichFunc func(record map[string]any) map[string]any

// Collaborators are the external producer dependencies injected into the
// orchestrator. Discovery and Transform serve infrastructure mode; Generate
// and Enrich serve simulation mode.
type Collaborators struct {
	Discovery DiscoverySource
	Transform TransformFunc
	Generate  GenerateFunc
	Enrich    EnrichFunc
}
