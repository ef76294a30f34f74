package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

// Command flags
var (
	toggleCells []int
	jumpFrom    int
	jumpPrev    bool
)

var listCmd = &cobra.Command{
	Use:   "list <notebook>",
	Short: "List the scenes of a notebook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()
		printScenes(cmd.OutOrStdout(), s)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <notebook> <scene>",
	Short: "Append an empty scene",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "create", args[1], "", func(s *notebookSession) error {
			return s.ctrl.CreateNewEmptyScene(args[1])
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <notebook> <scene> <new-name>",
	Short: "Rename a scene, moving its cell tags along",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "rename", args[1], args[2], func(s *notebookSession) error {
			return s.ctrl.RenameScene(args[1], args[2])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <notebook> <scene>",
	Short: "Delete a scene and its cell tags",
	Long:  "Delete a scene and its cell tags. The last remaining scene is never deleted.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "delete", args[1], "", func(s *notebookSession) error {
			return s.ctrl.DeleteScene(args[1])
		})
	},
}

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <notebook> <new-name>",
	Short: "Copy the active scene's membership into a new scene",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "duplicate", args[1], "", func(s *notebookSession) error {
			return s.ctrl.DuplicateActiveScene(args[1])
		})
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate <notebook> <scene>",
	Short: "Make a scene the active scene",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "activate", args[1], "", func(s *notebookSession) error {
			return s.ctrl.SetActiveScene(args[1])
		})
	},
}

var initCmd = &cobra.Command{
	Use:   "init <notebook> <scene>",
	Short: "Toggle whether a scene runs when a kernel connects",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "init", args[1], "", func(s *notebookSession) error {
			return s.ctrl.ToggleInitScene(args[1])
		})
	},
}

var moveCmd = &cobra.Command{
	Use:       "move <notebook> up|down",
	Short:     "Move the active scene one position in the list",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := strings.ToLower(args[1])
		if direction != "up" && direction != "down" {
			return fmt.Errorf("direction must be up or down, got %q", args[1])
		}
		return mutateScenes(cmd, args[0], "move", "", direction, func(s *notebookSession) error {
			if direction == "up" {
				s.ctrl.MoveActiveSceneUp()
			} else {
				s.ctrl.MoveActiveSceneDown()
			}
			return nil
		})
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <notebook> --cells i[,j...]",
	Short: "Toggle active-scene membership of cells",
	Long: `Toggle active-scene membership of the given cells. The first index is
the focused cell: if it belongs to the active scene, all given cells leave
it, otherwise all of them join.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateScenes(cmd, args[0], "toggle", "", joinInts(toggleCells), func(s *notebookSession) error {
			for i, idx := range toggleCells {
				c, err := s.cellAt(idx)
				if err != nil {
					return err
				}
				c.SetSelected(true)
				if i == 0 {
					s.view.Activate(c)
				}
			}
			s.ctrl.ToggleSceneMembershipOfSelectedCells()
			return nil
		})
	},
}

var jumpCmd = &cobra.Command{
	Use:   "jump <notebook> --from N [--prev]",
	Short: "Print the index of the next active-scene cell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		from, err := s.cellAt(jumpFrom)
		if err != nil {
			return err
		}
		s.view.Activate(from)

		var target *notebook.Cell
		if jumpPrev {
			target = s.ctrl.JumpToPreviousSceneCell()
		} else {
			target = s.ctrl.JumpToNextSceneCell()
		}
		if target == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no scene cell in that direction")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.view.IndexOf(target))
		return nil
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <notebook>",
	Short: "Migrate init_cell flags into a scene",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if !s.imported {
			fmt.Fprintln(out, "nothing to import")
			return nil
		}
		if err := s.commit(cmd.Context(), "import-legacy", cfg.Scenes.LegacyScene, ""); err != nil {
			return err
		}
		fmt.Fprintf(out, "imported legacy init cells into %q\n", cfg.Scenes.LegacyScene)
		printScenes(out, s)
		return nil
	},
}

// mutateScenes opens path, applies fn, saves and journals the result and
// prints the scene list.
func mutateScenes(cmd *cobra.Command, path, op, scene, detail string, fn func(*notebookSession) error) error {
	s, err := openNotebook(path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := fn(s); err != nil {
		return err
	}
	if err := s.commit(cmd.Context(), op, scene, detail); err != nil {
		return err
	}
	logging.Scenes("%s %q on %s", op, scene, s.doc.Name())
	printScenes(cmd.OutOrStdout(), s)
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
