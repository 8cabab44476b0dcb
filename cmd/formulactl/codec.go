package main

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rawbytedev/formula"
	"github.com/rawbytedev/formula/pkg/frame"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func formulaFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "schema file")
	cmd.Flags().String("formula", "", "formula name in the schema")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("formula")
	cmd.Flags().Bool("frame", false, "wrap or unwrap values in checked frames")
}

func (a *app) selected(cmd *cobra.Command) (*formula.Formula, error) {
	path, _ := cmd.Flags().GetString("schema")
	name, _ := cmd.Flags().GetString("formula")
	return a.lookup(path, name)
}

// input reads the optional file argument, or stdin.
func input(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newEncodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode --schema S --formula N [VALUE.yaml]",
		Short: "Encode a YAML value",
		Long: `Encode a YAML value with a formula. Mappings become structs, sequences
become arrays and slices, and a union value is a single-key mapping from case
name to body. The binary result goes to --out or stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.selected(cmd)
			if err != nil {
				return err
			}
			data, err := input(cmd, args)
			if err != nil {
				return err
			}
			var value any
			if err := yaml.Unmarshal(data, &value); err != nil {
				return err
			}
			out, err := formula.Encode(a.cfg, value, f)
			if err != nil {
				return err
			}
			a.log.Debug("encoded value",
				zap.Stringer("formula", f),
				zap.String("size", humanize.IBytes(uint64(len(out)))))
			if framed, _ := cmd.Flags().GetBool("frame"); framed {
				if out, err = frame.Append(nil, a.cfg, f, out); err != nil {
					return err
				}
			}

			path, _ := cmd.Flags().GetString("out")
			if path == "" || path == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(path, out, 0o644)
		},
	}
	formulaFlags(cmd)
	cmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	return cmd
}

func newDecodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode --schema S --formula N [FILE]",
		Short: "Decode binary input and print it as YAML",
		Long: `Decode binary input with a formula and print the value as YAML. Union
values print as a single-key mapping and byte strings as !!binary.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.selected(cmd)
			if err != nil {
				return err
			}
			data, err := input(cmd, args)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if framed, _ := cmd.Flags().GetBool("frame"); framed {
				for len(data) > 0 {
					payload, rest, err := frame.Open(data, a.cfg, f)
					if err != nil {
						return err
					}
					if err := a.decode(enc, payload, f); err != nil {
						return err
					}
					data = rest
				}
			} else if err := a.decode(enc, data, f); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	formulaFlags(cmd)
	return cmd
}

func (a *app) decode(enc *yaml.Encoder, data []byte, f *formula.Formula) error {
	value, err := formula.Decode[any](a.cfg, data, f)
	if err != nil {
		return err
	}
	a.log.Debug("decoded value",
		zap.Stringer("formula", f),
		zap.String("size", humanize.IBytes(uint64(len(data)))))
	return enc.Encode(toYAML(value))
}

// toYAML rewrites decoded values into shapes the encode command accepts back.
func toYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toYAML(e)
		}
		return out
	case []byte:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(x)}
	case formula.Tagged:
		return map[string]any{x.Case: toYAML(x.Value)}
	}
	return v
}
