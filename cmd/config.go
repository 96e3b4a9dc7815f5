package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/mandelgather/internal/config"
	"github.com/zjrosen/mandelgather/internal/fractal"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the config file",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), configPath())
		return nil
	},
}

var configSaveRegionCmd = &cobra.Command{
	Use:   "save-region MIN_REAL,MAX_REAL,MIN_IMAG,MAX_IMAG",
	Short: "Store a complex-plane region as the default view",
	Long: `Rewrite only the region section of the config file. Comments and every
other setting are left as they are.

Examples:
  mandelgather config save-region -- -0.75,-0.73,0.1,0.12
  mandelgather config save-region -- -2,1,-1.5,1.5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := parseRegion(args[0])
		if err != nil {
			return err
		}
		path := configPath()
		if err := config.SaveRegion(path, r); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved region [%g,%g]x[%g,%g] to %s\n", r.MinReal, r.MaxReal, r.MinImag, r.MaxImag, path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd, configSaveRegionCmd)
	rootCmd.AddCommand(configCmd)
}

// parseRegion reads "min_real,max_real,min_imag,max_imag".
func parseRegion(s string) (fractal.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return fractal.Region{}, fmt.Errorf("region must be min_real,max_real,min_imag,max_imag, got %q", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return fractal.Region{}, fmt.Errorf("region value %q: %w", part, err)
		}
		v[i] = f
	}
	r := fractal.Region{MinReal: v[0], MaxReal: v[1], MinImag: v[2], MaxImag: v[3]}
	p := fractal.Params{Width: 1, Height: 1, MaxIters: 1, Region: r}
	if err := p.Validate(); err != nil {
		return fractal.Region{}, err
	}
	return r, nil
}
