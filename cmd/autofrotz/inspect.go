package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/autofrotz/quetzal"
	"github.com/chazu/autofrotz/zmachine"
	"github.com/spf13/cobra"
)

func newInspectCommand(a *app) *cobra.Command {
	var story string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the chunks and header of a Quetzal save file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if story == "" {
				story = a.m.StoryPath()
			}
			return inspect(args[0], story, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&story, "story", "", "check the save file against this story")
	return cmd
}

func inspect(path, story string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	chunks, err := quetzal.Chunks(data)
	fmt.Fprintln(out, titleStyle.Render(path))
	fmt.Fprintf(out, "%-6s %8s %8s\n", "chunk", "offset", "size")
	for _, c := range chunks {
		fmt.Fprintf(out, "%-6s %8d %8d\n", c.ID, c.Offset, c.Size)
	}
	if err != nil {
		return err
	}

	h, err := quetzal.ReadHeader(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "release %d, serial %s, checksum $%04x, pc $%05x\n",
		h.Release, h.Serial[:], h.Checksum, h.PC)

	if story == "" {
		return nil
	}
	image, err := os.ReadFile(story)
	if err != nil {
		return err
	}
	sh, err := zmachine.ParseHeader(image)
	if err != nil {
		return fmt.Errorf("%s: %w", story, err)
	}
	if h.Matches(sh) {
		fmt.Fprintln(out, noteStyle.Render("saved by "+story))
	} else {
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("not saved by %s (release %d, serial %s)", story, sh.Release, sh.SerialString())))
	}
	return nil
}
