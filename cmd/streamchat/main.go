package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	streamchat_cmds "github.com/go-go-golems/streamchat/cmd/streamchat/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "streamchat",
	Short: "streamchat is a terminal client for a streaming chat backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitLoggerFromCobra(cmd); err != nil {
			return err
		}
		if f := cmd.Flags(); f != nil {
			lvl, _ := f.GetString("log-level")
			if lvl != "" {
				if l, err := zerolog.ParseLevel(lvl); err == nil {
					zerolog.SetGlobalLevel(l)
				}
			}
			withCaller, _ := f.GetBool("with-caller")
			if withCaller {
				log.Logger = log.Logger.With().Caller().Logger()
			}
		}
		return nil
	},
}

func main() {
	if err := clay.InitGlazed("streamchat", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	streamchat_cmds.AddToRootCommand(rootCmd)

	cobra.CheckErr(rootCmd.Execute())
}
