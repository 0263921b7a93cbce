package cmd

import (
	"mnemo/internal/tui"
)

func runTUI() error {
	eng, _, closer, err := openEngine()
	if err != nil {
		return err
	}
	defer closer()

	return tui.Run(eng)
}
