// Package scenario loads topology descriptions from YAML and builds them into
// a sim.Topology.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/theczechguy/cloudgame/sim"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("servicekind", func(fl validator.FieldLevel) bool {
		return sim.IsValidServiceKind(fl.Field().String())
	})
}

// Scenario is a topology plus optional spawn settings.
type Scenario struct {
	Name    string           `yaml:"name" validate:"required,max=100"`
	Regions []RegionSpec     `yaml:"regions" validate:"omitempty,dive"`
	Nodes   []NodeSpec       `yaml:"nodes" validate:"required,min=1,dive"`
	Edges   []EdgeSpec       `yaml:"edges" validate:"omitempty,dive"`
	Spawn   *sim.SpawnConfig `yaml:"spawn"`
}

// RegionSpec describes a region. Location is compared against packet origins.
type RegionSpec struct {
	ID       string `yaml:"id" validate:"required,max=64"`
	Label    string `yaml:"label" validate:"max=100"`
	Location string `yaml:"location" validate:"max=100"`
}

// NodeSpec describes a node. Zero numeric overrides defer to the catalog.
type NodeSpec struct {
	ID                   string       `yaml:"id" validate:"required,max=64"`
	Kind                 string       `yaml:"kind" validate:"required,servicekind"`
	Label                string       `yaml:"label" validate:"max=100"`
	Region               string       `yaml:"region" validate:"max=64"`
	Position             sim.Position `yaml:"position"`
	MaxQueueSize         *int         `yaml:"max_queue_size" validate:"omitempty,min=0"`
	ProcessingSpeed      float64      `yaml:"processing_speed" validate:"gte=0"`
	ProcessingMultiplier float64      `yaml:"processing_multiplier" validate:"gte=0"`
	MaxConcurrent        int          `yaml:"max_concurrent" validate:"gte=0"`
	Upgrades             []string     `yaml:"upgrades" validate:"omitempty,dive,required"`
	TrafficOrigin        string       `yaml:"traffic_origin" validate:"max=100"`
}

// EdgeSpec describes a directed edge. An empty ID is derived from the
// endpoints.
type EdgeSpec struct {
	ID     string `yaml:"id" validate:"max=64"`
	Source string `yaml:"source" validate:"required"`
	Target string `yaml:"target" validate:"required,nefield=Source"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario YAML. Unknown keys are errors.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks field constraints. Referential checks happen in Build.
func (sc *Scenario) Validate() error {
	if sc == nil {
		return errors.New("scenario cannot be nil")
	}
	if err := validate.Struct(sc); err != nil {
		return formatValidationError(err)
	}
	if sc.Spawn != nil {
		if err := sc.Spawn.Validate(); err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}
	return nil
}

// Build constructs the topology. Structural errors from the topology
// (duplicate ids, dangling references, origin fan-out) are returned wrapped.
func (sc *Scenario) Build(catalog *sim.Catalog) (*sim.Topology, error) {
	topo := sim.NewTopology()
	for _, r := range sc.Regions {
		label := r.Label
		if label == "" {
			label = r.ID
		}
		if err := topo.AddRegion(&sim.Region{ID: r.ID, Label: label, Location: r.Location}); err != nil {
			return nil, err
		}
	}
	for _, ns := range sc.Nodes {
		n := sim.NewNode(ns.ID, sim.ServiceKind(ns.Kind), catalog)
		if ns.Label != "" {
			n.Label = ns.Label
		}
		n.RegionID = ns.Region
		n.Position = ns.Position
		if ns.MaxQueueSize != nil {
			n.MaxQueueSize = *ns.MaxQueueSize
		}
		n.ProcessingSpeed = ns.ProcessingSpeed
		n.ProcessingMultiplier = ns.ProcessingMultiplier
		n.MaxConcurrent = ns.MaxConcurrent
		n.TrafficOrigin = ns.TrafficOrigin
		if err := topo.AddNode(n); err != nil {
			return nil, err
		}
		for _, u := range ns.Upgrades {
			if err := topo.InstallUpgrade(ns.ID, u, catalog); err != nil {
				return nil, err
			}
		}
	}
	for _, es := range sc.Edges {
		id := es.ID
		if id == "" {
			id = fmt.Sprintf("%s->%s", es.Source, es.Target)
		}
		if err := topo.AddEdge(&sim.Edge{ID: id, Source: es.Source, Target: es.Target}); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// formatValidationError returns the first validation error in a
// user-friendly format.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "servicekind":
			return fmt.Errorf("%s: unknown service kind %q: %w", field, e.Value(), sim.ErrUnknownKind)
		case "nefield":
			return fmt.Errorf("%s: must differ from %s: %w", field, param, sim.ErrSelfLoop)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
