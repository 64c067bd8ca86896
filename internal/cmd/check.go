package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kreijstal/mcp-ipython/internal/kernel"
)

const checkTimeout = 30 * time.Second

// IPyKernelChecker reports the interpreter that would run the kernel and
// the ipykernel version it imports.
type IPyKernelChecker interface {
	CheckIPyKernel(ctx context.Context) (python, version string, err error)
}

// NewCheckCmd creates the check command. newChecker receives the value of
// --python; nil uses a kernel.Launcher.
func NewCheckCmd(newChecker func(python string) IPyKernelChecker) *cobra.Command {
	if newChecker == nil {
		newChecker = func(python string) IPyKernelChecker {
			return kernel.NewLauncher(kernel.LauncherOptions{Python: python})
		}
	}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that a Python interpreter with ipykernel is available",
		Long: `Locate the Python interpreter used to launch the IPython kernel and
verify that it can import ipykernel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			python, _ := cmd.Flags().GetString("python")

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()

			interpreter, ipykernelVersion, err := newChecker(python).CheckIPyKernel(ctx)
			out := cmd.OutOrStdout()
			if interpreter != "" {
				fmt.Fprintf(out, "Python:    %s\n", interpreter)
			}
			if err != nil {
				return fmt.Errorf("kernel check failed: %w", err)
			}
			fmt.Fprintf(out, "ipykernel: %s\n", ipykernelVersion)
			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	cmd.Flags().String("python", "", "Python interpreter to check (default: discovered)")
	return cmd
}
