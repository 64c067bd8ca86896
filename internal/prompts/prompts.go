package prompts

// ToolPrompts contains all prompts for MCP tools
type ToolPrompts struct {
	SendCommand     string
	ClearKernel     string
	RestartKernel   string
	InterruptKernel string
	KernelStatus    string
}

// Default returns the default prompts configuration
func Default() *ToolPrompts {
	return &ToolPrompts{
		SendCommand:     SendCommandToolDescription,
		ClearKernel:     ClearKernelToolDescription,
		RestartKernel:   RestartKernelToolDescription,
		InterruptKernel: InterruptKernelToolDescription,
		KernelStatus:    KernelStatusToolDescription,
	}
}
