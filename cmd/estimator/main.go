// Command estimator prints a price estimate for one house:
//
//	estimator [--model model.yaml] <square_footage> <bedrooms>
//
// On success the price is the only thing written to stdout. On failure a
// diagnostic goes to stderr and the exit status is 1.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkulina/housing-pricing/pricing"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:           "estimator <square_footage> <bedrooms>",
		Short:         "Estimate a house price from square footage and bedroom count",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errUsage
			}
			squareFootage, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid input: %w", err)
			}
			bedrooms, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid input: %w", err)
			}

			model, err := pricing.LoadModel(modelPath)
			if err != nil {
				return err
			}
			price, err := model.Predict(squareFootage, bedrooms)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, strconv.FormatFloat(price, 'f', -1, 64))
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&modelPath, "model", defaultModelPath(), "path to the model file")
	return cmd
}

var errUsage = fmt.Errorf("usage: estimator [--model path] <square_footage> <bedrooms>")

func defaultModelPath() string {
	if p := os.Getenv("ESTIMATOR_MODEL_PATH"); p != "" {
		return p
	}
	return "model.yaml"
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
