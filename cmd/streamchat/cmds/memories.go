package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/streamchat/pkg/api"
)

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Inspect what the backend remembers about you",
}

func addMemoriesCommands(root *cobra.Command) {
	listCmd, err := NewMemoriesListCommand()
	cobra.CheckErr(err)
	deleteCmd, err := NewMemoriesDeleteCommand()
	cobra.CheckErr(err)

	for _, c := range []cmds.Command{listCmd, deleteCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		cobra.CheckErr(err)
		memoriesCmd.AddCommand(cobraCmd)
	}
	root.AddCommand(memoriesCmd)
}

type MemoriesListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &MemoriesListCommand{}

type MemoriesListSettings struct {
	Offset int `glazed:"offset"`
	Size   int `glazed:"size"`
}

func NewMemoriesListCommand() (*MemoriesListCommand, error) {
	desc, err := newGlazeDescription("list", "List stored user memories", []*fields.Definition{
		fields.New("offset", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("Page offset")),
		fields.New("size", fields.TypeInteger, fields.WithDefault(api.DefaultPageSize), fields.WithHelp("Page size")),
	})
	if err != nil {
		return nil, err
	}
	return &MemoriesListCommand{CommandDescription: desc}, nil
}

func (c *MemoriesListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &MemoriesListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if err := app.RefreshMemories(ctx, api.Page{Offset: s.Offset, Size: s.Size}); err != nil {
		return err
	}
	for _, m := range app.Memories.Items() {
		row := types.NewRow(
			types.MRP("memory_id", m.MemoryID),
			types.MRP("content", m.Content),
			types.MRP("updated_at", m.UpdatedAt.Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type MemoriesDeleteCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &MemoriesDeleteCommand{}

type MemoriesDeleteSettings struct {
	MemoryIDs []string `glazed:"memory-id"`
}

func NewMemoriesDeleteCommand() (*MemoriesDeleteCommand, error) {
	desc, err := newGlazeDescription("delete", "Delete stored user memories", nil,
		fields.New("memory-id", fields.TypeStringList, fields.WithRequired(true), fields.WithHelp("Memory ids to delete")),
	)
	if err != nil {
		return nil, err
	}
	return &MemoriesDeleteCommand{CommandDescription: desc}, nil
}

func (c *MemoriesDeleteCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &MemoriesDeleteSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	app, err := openApp(ctx, parsed)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	results, err := app.DeleteMemories(ctx, s.MemoryIDs)
	for _, r := range results {
		if rowErr := gp.AddRow(ctx, types.NewRow(
			types.MRP("memory_id", r.MemoryID),
			types.MRP("deleted", r.Deleted),
		)); rowErr != nil {
			return rowErr
		}
	}
	return err
}

// RefreshMemories replaces the local memory list with a page from the backend.
func (a *App) RefreshMemories(ctx context.Context, page api.Page) error {
	list, err := a.API.ListMemories(ctx, page)
	if err != nil {
		return err
	}
	a.Memories.SetItems(list.Items)
	return nil
}

type memoryDeletion struct {
	MemoryID string
	Deleted  bool
}

// DeleteMemories deletes ids in order. Unknown ids are reported as not
// deleted; any other failure stops the run.
func (a *App) DeleteMemories(ctx context.Context, ids []string) ([]memoryDeletion, error) {
	results := make([]memoryDeletion, 0, len(ids))
	for _, id := range ids {
		err := a.Memories.Delete(ctx, a.API, id)
		switch {
		case err == nil:
			results = append(results, memoryDeletion{MemoryID: id, Deleted: true})
		case errors.Is(err, api.ErrMemoryNotFound):
			log.Warn().Str("component", "memories").Str("memory_id", id).Msg("memory not found")
			results = append(results, memoryDeletion{MemoryID: id})
		default:
			return results, err
		}
	}
	return results, nil
}
