// Command tindex builds a tile index: a vector catalog holding one rectangle per
// source layer, tagged with the location of the layer it covers.
//
//	tindex [flags] OUTPUT SOURCE...
//
// Flags can also be set in a TOML or YAML file passed with --config, or through
// TINDEX_* environment variables (TINDEX_FORMAT, TINDEX_WRITE_ABSOLUTE_PATH, ...).
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tileindex "github.com/tingold/orb-tileindex"
	"github.com/tingold/orb-tileindex/flatgeobuf"
	"github.com/tingold/orb-tileindex/geojson"
	"github.com/tingold/orb-tileindex/gpkg"
)

const envPrefix = "TINDEX"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// registry returns the drivers tindex knows, in probing order.
func registry() *tileindex.Registry {
	return tileindex.NewRegistry(flatgeobuf.NewDriver(), geojson.NewDriver(), gpkg.NewDriver())
}

// run executes the command line and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	status := 0
	cmd := newCommand(stdout, stderr, &status)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return status
}

func newCommand(stdout, stderr io.Writer, status *int) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "tindex [flags] OUTPUT SOURCE...",
		Short: "Build a tile index of vector datasets",
		Long: `tindex appends one feature per source layer to the tile index OUTPUT. Each
feature holds the extent of the layer and its location as "path,layer". Layers
already present in the index are skipped, so tindex can be re-run as tiles
are added. OUTPUT is created with --format when it does not exist.`,
		SilenceUsage: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if v.GetBool("list-drivers") {
				return nil
			}
			if len(args) < 2 {
				return errors.New("an output tile index and at least one source are required")
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := registry()
			if v.GetBool("list-drivers") {
				listDrivers(stdout, reg)
				return nil
			}

			cfg, err := buildConfig(v, args)
			if err != nil {
				return err
			}
			*status = tileindex.Run(cfg, reg, newLogger(v, stderr))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.SortFlags = false
	f.IntSlice("lnum", nil, "Index only the layer with this index (repeatable)")
	f.StringSlice("lname", nil, "Index only the layer with this name (repeatable)")
	f.StringP("format", "f", tileindex.DefaultFormat, "Driver used to create a new tile index")
	f.String("tileindex", tileindex.DefaultLocationField, "Name of the location field")
	f.Bool("write-absolute-path", false, "Store absolute source paths")
	f.Bool("skip-different-projection", false, "Skip layers whose projection differs from the tile index")
	f.Bool("accept-different-schemas", false, "Index layers whose attributes differ from the tile index")
	f.Int("workers", 1, "Number of source datasets read concurrently")
	f.Bool("list-drivers", false, "List the available drivers and exit")
	f.String("config", "", "Configuration file (TOML or YAML)")
	f.BoolP("verbose", "v", false, "Enable debug logging")
	f.BoolP("quiet", "q", false, "Only log warnings and errors")

	// Flags take precedence over the environment, which takes precedence over the
	// config file.
	_ = v.BindPFlags(f)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func loadConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	return nil
}

// buildConfig turns the resolved settings and the positional arguments into a run
// configuration.
func buildConfig(v *viper.Viper, args []string) (*tileindex.Config, error) {
	cfg := tileindex.DefaultConfig()
	cfg.Output = args[0]
	cfg.Sources = tileindex.SourcePaths(args[1:]...)
	cfg.Format = v.GetString("format")
	cfg.LocationField = v.GetString("tileindex")
	cfg.AbsolutePaths = v.GetBool("write-absolute-path")
	cfg.Workers = v.GetInt("workers")

	if cfg.LocationField == "" {
		return nil, errors.New("--tileindex must not be empty")
	}
	if v.GetBool("skip-different-projection") {
		cfg.SRSPolicy = tileindex.SRSSkip
	}
	if v.GetBool("accept-different-schemas") {
		cfg.SchemaPolicy = tileindex.SchemaTolerate
	}

	for _, n := range v.GetIntSlice("lnum") {
		if n < 0 {
			return nil, errors.Newf("--lnum %d: layer indexes start at 0", n)
		}
		cfg.Filter = append(cfg.Filter, tileindex.ByIndex(n))
	}
	for _, name := range v.GetStringSlice("lname") {
		cfg.Filter = append(cfg.Filter, tileindex.ByName(name))
	}
	return cfg, nil
}

func newLogger(v *viper.Viper, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.Out = out
	log.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	switch {
	case v.GetBool("verbose"):
		log.SetLevel(logrus.DebugLevel)
	case v.GetBool("quiet"):
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func listDrivers(w io.Writer, reg *tileindex.Registry) {
	for _, name := range reg.DriverNames() {
		mode := "read"
		if _, ok := reg.Driver(name).(tileindex.Creator); ok {
			mode = "read, create"
		}
		fmt.Fprintf(w, "%s (%s)\n", name, mode)
	}
}
