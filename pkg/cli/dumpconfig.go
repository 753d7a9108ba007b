// Copyright (C) 2026  Klipper Estimator Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	esterr "github.com/Annex-Engineering/klipper-estimator/pkg/errors"
)

func newDumpConfigCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the resolved printer limits as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := opts.printerLimits()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(limits, "", "  ")
			if err != nil {
				return esterr.Config("serializing limits: %v", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
