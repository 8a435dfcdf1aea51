package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/vec2wav2/internal/model"
	"github.com/spf13/cobra"
)

func newValidateConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config [paths...]",
		Short: "Parse and validate model config files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			failed := false

			for _, path := range args {
				if _, err := model.Load(path); err != nil {
					failed = true

					_, _ = fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)

					continue
				}

				_, _ = fmt.Fprintf(os.Stdout, "ok %s\n", path)
			}

			if failed {
				return errors.New("config validation failed")
			}

			return nil
		},
	}

	return cmd
}
