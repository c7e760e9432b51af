package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/spf13/cobra"
)

// AddToRootCommand registers every streamchat command on root.
func AddToRootCommand(root *cobra.Command) {
	chatCmd, err := NewChatCommand()
	cobra.CheckErr(err)
	sendCmd, err := NewSendCommand()
	cobra.CheckErr(err)
	loginCmd, err := NewLoginCommand()
	cobra.CheckErr(err)
	watchCmd, err := NewWatchCommand()
	cobra.CheckErr(err)

	for _, c := range []cmds.Command{chatCmd, sendCmd, loginCmd, watchCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		cobra.CheckErr(err)
		root.AddCommand(cobraCmd)
	}
	addChatsCommands(root)
	addMemoriesCommands(root)
}

// Environment variables are resolved by config.Load, not by glazed, so that
// flags only override values that were set explicitly.
func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromDefaults(),
	}, nil
}
