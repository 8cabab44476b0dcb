package main

import (
	"fmt"

	"github.com/rawbytedev/formula"
	"github.com/rawbytedev/formula/pkg/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const Version = "0.1.0"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v   *viper.Viper
	cfg formula.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "formulactl",
		Short: "inspect formulas and convert values",
		Long: fmt.Sprintf(`formulactl (v%s)

Loads named formulas from a YAML schema, prints their layout and converts
YAML values to and from the binary encoding.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.log.Sync() },
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "configuration file (yaml, json or toml)")
	flags.Uint("address-width", 32, "bit width of address, length and tag words (32 or 64)")
	flags.Bool("allow-allocation", true, "allow decodes that allocate")
	flags.Bool("unsafe-strings", false, "decode strings without copying")
	flags.BoolP("verbose", "v", false, "log debug events to stderr")

	root.AddCommand(newLayoutCmd(a), newEncodeCmd(a), newDecodeCmd(a), &cobra.Command{
		Use:   "version",
		Short: "Print the version number of formulactl",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("formulactl v%s\n", Version)
		},
	})
	return root
}

// setup resolves the configuration from flags, FORMULA_* environment
// variables and the optional config file, then installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"address_width":    "address-width",
		"allow_allocation": "allow-allocation",
		"unsafe_strings":   "unsafe-strings",
		"verbose":          "verbose",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	a.v.SetEnvPrefix("formula")
	a.v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	var err error
	if a.v.GetBool("verbose") {
		a.log, err = zap.NewDevelopment()
	} else {
		a.log, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	formula.SetLogger(a.log)
	a.log.Debug("configuration loaded",
		zap.Uint8("address_width", uint8(a.cfg.AddressWidth)),
		zap.Bool("allow_allocation", a.cfg.AllowAllocation),
		zap.Bool("unsafe_strings", a.cfg.UnsafeStrings))
	return nil
}

// lookup loads the schema file and resolves one formula from it.
func (a *app) lookup(path, name string) (*formula.Formula, error) {
	reg, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	f, ok := reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("schema %s has no formula %q", path, name)
	}
	return f, nil
}
