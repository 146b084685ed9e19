package sim

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ServiceSpec is the catalog entry for one service kind.
// MaxConcurrent nil means "derive from processing speed".
type ServiceSpec struct {
	Kind                 ServiceKind `yaml:"kind"`
	Label                string      `yaml:"label"`
	Cost                 float64     `yaml:"cost"`
	Upkeep               float64     `yaml:"upkeep"` // per upkeep interval
	ProcessingSpeed      float64     `yaml:"processing_speed"`
	MaxQueueSize         int         `yaml:"max_queue_size"`
	MaxConcurrent        *int        `yaml:"max_concurrent"`
	ProcessingMultiplier float64     `yaml:"processing_multiplier"`
	FreeRequests         int         `yaml:"free_requests"`
	PerRequestCost       float64     `yaml:"per_request_cost"`
	PerNodeUpkeep        float64     `yaml:"per_node_upkeep"` // monitoring ingestion surcharge
}

// UpgradeSpec describes an installable node capability.
type UpgradeSpec struct {
	ID         string        `yaml:"id"`
	Label      string        `yaml:"label"`
	Cost       float64       `yaml:"cost"`
	ValidKinds []ServiceKind `yaml:"valid_kinds"`
}

// Catalog is the read-only service and upgrade table.
type Catalog struct {
	Services []ServiceSpec `yaml:"services"`
	Upgrades []UpgradeSpec `yaml:"upgrades"`

	byKind map[ServiceKind]int
}

func intPtr(v int) *int { return &v }

// DefaultCatalog returns the built-in service catalog.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Services: []ServiceSpec{
			{Kind: KindInternet, Label: "Internet"},
			{Kind: KindVM, Label: "Virtual Machine", Cost: 100, Upkeep: 5, ProcessingSpeed: 8, MaxQueueSize: 5, MaxConcurrent: intPtr(2), ProcessingMultiplier: 1.5},
			{Kind: KindAppService, Label: "App Service", Cost: 200, Upkeep: 8, ProcessingSpeed: 25, MaxQueueSize: 10, MaxConcurrent: intPtr(5), ProcessingMultiplier: 2},
			{Kind: KindFunctionApp, Label: "Function App", Cost: 50, Upkeep: 0, ProcessingSpeed: 2, MaxQueueSize: 5, MaxConcurrent: intPtr(2), ProcessingMultiplier: 1.2, FreeRequests: 1000, PerRequestCost: 0.005},
			{Kind: KindSQLDB, Label: "Azure SQL (Basic)", Cost: 300, Upkeep: 15, ProcessingSpeed: 5, MaxQueueSize: 10, MaxConcurrent: intPtr(2), ProcessingMultiplier: 1.5},
			{Kind: KindSQLDBPremium, Label: "Azure SQL (Premium)", Cost: 600, Upkeep: 40, ProcessingSpeed: 10, MaxQueueSize: 20, MaxConcurrent: intPtr(4), ProcessingMultiplier: 1.5},
			{Kind: KindCosmosDB, Label: "Azure Cosmos DB", Cost: 1200, Upkeep: 100, ProcessingSpeed: 20, MaxQueueSize: 50, MaxConcurrent: intPtr(10), ProcessingMultiplier: 1.5},
			{Kind: KindTrafficManager, Label: "Traffic Manager", Cost: 50, Upkeep: 2, ProcessingSpeed: 100, MaxQueueSize: 20, ProcessingMultiplier: 1},
			{Kind: KindLoadBalancer, Label: "Load Balancer", Cost: 150, Upkeep: 10, ProcessingSpeed: 50, MaxQueueSize: 20, ProcessingMultiplier: 1},
			{Kind: KindFirewall, Label: "Firewall", Cost: 100, Upkeep: 5, ProcessingSpeed: 20, MaxQueueSize: 5, MaxConcurrent: intPtr(1), ProcessingMultiplier: 1},
			{Kind: KindWAF, Label: "WAF", Cost: 400, Upkeep: 20, ProcessingSpeed: 50, MaxQueueSize: 10, MaxConcurrent: intPtr(5), ProcessingMultiplier: 1},
			{Kind: KindStorageQueue, Label: "Storage Queue", Cost: 30, Upkeep: 2, ProcessingSpeed: 100, MaxQueueSize: 50, MaxConcurrent: intPtr(5)},
			{Kind: KindRedis, Label: "Azure Cache for Redis", Cost: 150, Upkeep: 15, ProcessingSpeed: 100, MaxQueueSize: 0, MaxConcurrent: intPtr(50)},
			{Kind: KindBlobStorage, Label: "Blob Storage", Cost: 100, Upkeep: 5, ProcessingSpeed: 20, MaxQueueSize: 20, MaxConcurrent: intPtr(10)},
			{Kind: KindAzureMonitor, Label: "Azure Monitor", Cost: 500, Upkeep: 20, PerNodeUpkeep: 0.5, MaxConcurrent: intPtr(0)},
		},
		Upgrades: []UpgradeSpec{
			{ID: UpgradeWeightedRouting, Label: "Smart Routing", Cost: 200, ValidKinds: []ServiceKind{KindLoadBalancer, KindTrafficManager}},
		},
	}
	c.index()
	return c
}

func (c *Catalog) index() {
	c.byKind = make(map[ServiceKind]int, len(c.Services))
	for i, s := range c.Services {
		c.byKind[s.Kind] = i
	}
}

// Spec returns the entry for kind. Safe on a nil catalog.
func (c *Catalog) Spec(kind ServiceKind) (ServiceSpec, bool) {
	if c == nil {
		return ServiceSpec{}, false
	}
	if c.byKind == nil {
		c.index()
	}
	i, ok := c.byKind[kind]
	if !ok {
		return ServiceSpec{}, false
	}
	return c.Services[i], true
}

// CanInstall reports whether upgrade may be installed on a node of kind.
func (c *Catalog) CanInstall(kind ServiceKind, upgrade string) bool {
	if c == nil {
		return false
	}
	for _, u := range c.Upgrades {
		if u.ID != upgrade {
			continue
		}
		for _, k := range u.ValidKinds {
			if k == kind {
				return true
			}
		}
	}
	return false
}

// Limits are the effective processing parameters of a node after applying
// node overrides over catalog baselines.
type Limits struct {
	Speed         float64
	Multiplier    float64
	MaxConcurrent int
}

// Limits resolves a node's effective speed, multiplier and concurrency.
// maxConcurrent falls back to max(1, floor(speed)) when neither the node nor
// the catalog set it.
func (c *Catalog) Limits(n *Node) Limits {
	spec, _ := c.Spec(n.Kind)
	l := Limits{Speed: 1, Multiplier: 1}
	switch {
	case n.ProcessingSpeed > 0:
		l.Speed = n.ProcessingSpeed
	case spec.ProcessingSpeed > 0:
		l.Speed = spec.ProcessingSpeed
	}
	switch {
	case n.ProcessingMultiplier > 0:
		l.Multiplier = n.ProcessingMultiplier
	case spec.ProcessingMultiplier > 0:
		l.Multiplier = spec.ProcessingMultiplier
	}
	switch {
	case n.MaxConcurrent > 0:
		l.MaxConcurrent = n.MaxConcurrent
	case spec.MaxConcurrent != nil:
		l.MaxConcurrent = *spec.MaxConcurrent
	default:
		l.MaxConcurrent = max(1, int(math.Floor(l.Speed)))
	}
	return l
}

// LoadCatalog reads a YAML catalog. Entries in the file replace the built-in
// entry of the same kind; kinds not mentioned keep their defaults.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var overrides Catalog
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&overrides); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c := DefaultCatalog()
	for _, s := range overrides.Services {
		if i, ok := c.byKind[s.Kind]; ok {
			c.Services[i] = s
		} else {
			c.Services = append(c.Services, s)
		}
	}
	if len(overrides.Upgrades) > 0 {
		c.Upgrades = overrides.Upgrades
	}
	c.index()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks kinds and numeric ranges.
func (c *Catalog) Validate() error {
	for _, s := range c.Services {
		if !validServiceKinds[s.Kind] {
			return fmt.Errorf("catalog entry %q: %w", s.Kind, ErrUnknownKind)
		}
		if s.Cost < 0 || s.Upkeep < 0 || s.PerRequestCost < 0 || s.PerNodeUpkeep < 0 {
			return fmt.Errorf("catalog entry %q: costs must be non-negative", s.Kind)
		}
		if s.ProcessingSpeed < 0 || s.ProcessingMultiplier < 0 {
			return fmt.Errorf("catalog entry %q: processing speed and multiplier must be non-negative", s.Kind)
		}
		if s.MaxQueueSize < 0 || s.FreeRequests < 0 {
			return fmt.Errorf("catalog entry %q: queue size and free requests must be non-negative", s.Kind)
		}
		if s.MaxConcurrent != nil && *s.MaxConcurrent < 0 {
			return fmt.Errorf("catalog entry %q: max_concurrent must be non-negative, got %d", s.Kind, *s.MaxConcurrent)
		}
	}
	for _, u := range c.Upgrades {
		if u.ID == "" {
			return fmt.Errorf("catalog upgrade with empty id")
		}
		for _, k := range u.ValidKinds {
			if !validServiceKinds[k] {
				return fmt.Errorf("upgrade %q valid kind %q: %w", u.ID, k, ErrUnknownKind)
			}
		}
	}
	return nil
}
