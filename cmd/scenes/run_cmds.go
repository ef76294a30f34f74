package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nbscenes/internal/logging"
	"nbscenes/internal/notebook"
)

var runCmd = &cobra.Command{
	Use:   "run <notebook> [scene]",
	Short: "Run the code cells of a scene (default: the active scene)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], false)
		if err != nil {
			return err
		}
		defer s.Close()

		scene := s.ctrl.ActiveScene(s.view)
		if len(args) == 2 {
			scene = args[1]
		}
		timer := logging.StartTimer(logging.CategoryExecution, "run "+scene)
		n := s.ctrl.RunSceneInNotebook(s.view, scene)
		s.queue.Wait()
		timer.Stop()

		if err := s.commit(cmd.Context(), "run", scene, fmt.Sprintf("%d cells", n)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ran %d cells of %q\n", n, scene)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <notebook>",
	Short: "Connect a kernel, running the init scene if one is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openNotebook(args[0], true)
		if err != nil {
			return err
		}
		defer s.Close()

		session := s.view.Session()
		kernel := session.Kernel()

		// The view was attached on open; wait for it to follow the kernel
		// before reporting the connection.
		attached := s.ctrl.AttachView(cmd.Context(), s.view)
		kernel.SetStatus(notebook.StatusConnecting)
		session.MarkReady()
		<-attached
		kernel.SetStatus(notebook.StatusConnected)
		s.queue.Wait()

		initScene := s.ctrl.InitScene()
		if err := s.commit(cmd.Context(), "start", initScene, kernel.ID()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if initScene == "" {
			fmt.Fprintf(out, "kernel %s connected, no init scene\n", kernel.ID())
			return nil
		}
		fmt.Fprintf(out, "kernel %s connected, ran init scene %q\n", kernel.ID(), initScene)
		return nil
	},
}
