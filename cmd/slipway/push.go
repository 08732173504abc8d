package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"slipway/internal/config"
	"slipway/internal/shell"
	"slipway/internal/source"
)

var pushCmd = &cobra.Command{
	Use:   "push [checkout-dir]",
	Short: "Commit local changes (after confirmation) and push the deployment branch",
	Long: `The ad hoc trigger: pushes the deployment branch so the receiving
hook starts a reconciliation. A dirty tree is never pushed silently;
you are prompted to confirm and to supply a commit message first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tgt, err := loadTarget()
		if err != nil {
			return err
		}
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		git := &source.Git{Runner: shell.NewExecRunner()}
		return runPushFlow(cmd.Context(), git, tgt, dir, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// runPushFlow holds the interactive logic, with the prompt streams injected
// so tests can script them.
func runPushFlow(ctx context.Context, git *source.Git, tgt *config.Target, dir string, in io.Reader, out io.Writer) error {
	dirty, err := git.Dirty(ctx, dir)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	if dirty {
		fmt.Fprint(out, "Uncommitted changes present. Commit and push? [y/N]: ")
		answer, err := readLine(reader)
		if err != nil {
			return err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
		default:
			fmt.Fprintln(out, "Aborted; nothing pushed.")
			return nil
		}

		fmt.Fprint(out, "Commit message: ")
		message, err := readLine(reader)
		if err != nil {
			return err
		}
		if err := git.CommitAll(ctx, dir, message); err != nil {
			return err
		}
	}

	if err := git.Push(ctx, dir, tgt.Branch); err != nil {
		return err
	}
	fmt.Fprintf(out, "Pushed %s; deployment will follow.\n", tgt.Branch)
	return nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
