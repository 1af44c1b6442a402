package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/c360/telempipe/platform"
)

// staticDiscovery synthesizes a fixed resource set per provider. Production
// deployments replace it with a real cloud-inventory collaborator; the
// pipeline only sees the DiscoverySource contract.
type staticDiscovery struct {
	resourcesPerProvider int
}

func (d *staticDiscovery) Discover(_ context.Context, provider string) (platform.DiscoveryResult, error) {
	n := d.resourcesPerProvider
	if n <= 0 {
		n = 3
	}

	resources := make([]map[string]any, n)
	for i := range resources {
		resources[i] = map[string]any{
			"id":       fmt.Sprintf("%s-broker-%d", provider, i),
			"provider": provider,
			"type":     "broker",
		}
	}
	return platform.DiscoveryResult{Provider: provider, Resources: resources}, nil
}

// transformResource converts one discovered resource into a metric record.
func transformResource(resource map[string]any) (map[string]any, error) {
	id, ok := resource["id"].(string)
	if !ok {
		return nil, fmt.Errorf("resource missing id: %v", resource)
	}

	return map[string]any{
		"name":      "broker.bytesInPerSec",
		"value":     rand.Float64() * 1e6,
		"entity":    id,
		"provider":  resource["provider"],
		"timestamp": time.Now().Unix(),
	}, nil
}

// generateRecord produces one synthetic sample for a scenario entity.
func generateRecord(_ context.Context, scenario string, entity int) (map[string]any, error) {
	return map[string]any{
		"name":      "synthetic.cpuPercent",
		"value":     20 + rand.Float64()*60,
		"entity":    fmt.Sprintf("%s-%d", scenario, entity),
		"scenario":  scenario,
		"timestamp": time.Now().Unix(),
	}, nil
}

// enrichRecord stamps common attributes onto a generated record.
func enrichRecord(record map[string]any) map[string]any {
	host, _ := os.Hostname()
	record["collector.host"] = host
	record["collector.name"] = appName
	return record
}
