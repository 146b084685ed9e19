package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/theczechguy/cloudgame/sim"
)

var validateScenario string

// validateCmd loads a scenario and builds its topology without running it.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a scenario file and report its size",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if validateScenario == "" {
			logrus.Fatalf("--scenario not provided.")
		}
		if err := validateScenarioFile(os.Stdout, validateScenario, catalogPath); err != nil {
			logrus.Fatalf("invalid scenario: %v", err)
		}
	},
}

func validateScenarioFile(out io.Writer, scenarioFile, catalogFile string) error {
	sc, _, topo, err := loadInputs(scenarioFile, catalogFile)
	if err != nil {
		return err
	}
	origins := 0
	for _, id := range topo.NodeOrder {
		if topo.Nodes[id].Kind.IsOrigin() {
			origins++
		}
	}
	if origins == 0 {
		logrus.Warnf("scenario %q has no %s node; no traffic will spawn", sc.Name, sim.KindInternet)
	}
	fmt.Fprintf(out, "scenario %q OK: %d regions, %d nodes, %d edges, %d origins\n",
		sc.Name, len(topo.Regions), len(topo.Nodes), len(topo.Edges), origins)
	return nil
}

func init() {
	validateCmd.Flags().StringVar(&validateScenario, "scenario", "", "Scenario YAML to validate")
}
