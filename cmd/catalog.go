package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	sim "github.com/theczechguy/cloudgame/sim"
)

// catalogCmd prints the effective catalog so it can be edited and passed
// back with --catalog.
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the service catalog as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if err := printCatalog(os.Stdout, catalogPath); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func printCatalog(out io.Writer, path string) error {
	catalog := sim.DefaultCatalog()
	if path != "" {
		var err error
		if catalog, err = sim.LoadCatalog(path); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	_, err = out.Write(data)
	return err
}
