package definition

import "github.com/spf13/cobra"

// Cmd is the parent command for analysis definition operations.
var Cmd = &cobra.Command{
	Use:     "definition",
	Short:   "Manage analysis definitions",
	Aliases: []string{"def", "definitions"},
}
