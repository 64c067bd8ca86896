// Package prompts contains all prompt strings and descriptions used by the tools.
package prompts

// Execution tool prompts
const (
	// SendCommandToolDescription is the description for the send_command tool
	SendCommandToolDescription = `Executes a Python command in the IPython kernel and returns its output.
Output includes status, stdout, stderr, and execution results.

Usage notes:
- The kernel is persistent: variables, imports and function definitions survive between calls until the kernel is cleared or restarted.
- IPython magics (%timeit, %pip, !shell) are supported.
- The first line of the output is "Status: <status>" where status is ok, error or aborted. Errors are reported with their name, value and traceback.
- Output collection stops after a timeout for long running commands; use interrupt_kernel to stop them.
- If the kernel was not running it is restarted and the command must be sent again.
- Commands (other than magics) are appended to a Python history file so a session can be replayed.`

	// ClearKernelToolDescription is the description for the clear_kernel tool
	ClearKernelToolDescription = `Clears all variables and resets the IPython kernel environment using '%reset -f'.
The kernel process keeps running; only the user namespace is emptied.`
)

// Lifecycle tool prompts
const (
	// RestartKernelToolDescription is the description for the restart_kernel tool
	RestartKernelToolDescription = `Restarts the IPython kernel process. All state (variables, imports, loaded data) is lost. Use this when the kernel is wedged or after installing packages that need a fresh interpreter.`

	// InterruptKernelToolDescription is the description for the interrupt_kernel tool
	InterruptKernelToolDescription = `Interrupts the command currently running in the IPython kernel, raising KeyboardInterrupt in it. Kernel state is kept.`

	// KernelStatusToolDescription is the description for the kernel_status tool
	KernelStatusToolDescription = `Reports whether the IPython kernel is running, its process id, uptime, restart count, heartbeat health and Python version. Set format to "json" for a machine readable answer.`
)

// Tool response templates
const (
	// KernelRestartedTemplate is returned by send_command after reviving a dead kernel
	KernelRestartedTemplate = "Error: IPython kernel was not running. It has been restarted. Please try your command again."

	// KernelRestartFailedTemplate is returned when a dead kernel cannot be revived
	KernelRestartFailedTemplate = "Error: IPython kernel not available and failed to restart: %v"

	// ClientNotReadyTemplate is returned when the kernel channels cannot be re-established
	ClientNotReadyTemplate = "Error: Failed to ensure kernel client readiness."

	// ClearSuccessTemplate wraps send_command output after a clean reset
	ClearSuccessTemplate = "IPython kernel environment cleared successfully.\nDetails:\n%s"

	// ClearIssuesTemplate wraps send_command output after a reset that reported problems
	ClearIssuesTemplate = "IPython kernel clear command finished with potential issues.\nDetails:\n%s"
)
