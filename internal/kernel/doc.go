// Package kernel runs an IPython kernel and talks to it.
//
// A Manager owns one kernel for the life of the server. It launches the
// ipykernel process through a Launcher (or attaches to a kernel described
// by an existing connection file), connects a Client to the kernel's
// ZeroMQ channels and hands command execution to an Executor, which turns
// the IOPub stream and the shell reply of one request into text.
package kernel
