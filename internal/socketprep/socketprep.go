// Package socketprep implements the Socket Preparer: it binds the listeners
// named by the bind specs, duplicates their descriptors so they survive
// exec without carrying close-on-exec, applies the requested socket
// options, and builds the worker command template.
//
// The duplication technique is grounded in the raw-fd work in
// graceful_restarts/SocketHandoff (TCPListener.File() dup) and sendfl
// (syscall-level fd manipulation), generalized from a single self-exec
// handoff to N independently spawned workers sharing the same descriptors.
package socketprep

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

const envFDCount = "EINHORN_FD_COUNT"
const envSockPath = "EINHORN_SOCK_PATH"

// Template is the ready-to-spawn command: program, arguments, environment
// (already carrying EINHORN_FD_* and stripped of the configured drop-list),
// and the duplicated listener files to hand a child via os/exec.ExtraFiles.
//
// Files is read-only once built; every spawn reuses the same *os.File
// values, relying on os/exec to dup them into each child — the master never
// closes them between spawns, since later spawns need them too.
type Template struct {
	Program string
	Args    []string
	Env     []string
	Files   []*os.File
}

// Prepare resolves and binds every spec in order, duplicates each listener's
// descriptor with close-on-exec cleared, applies the requested reuse-address
// and non-blocking options, and returns the worker command template. If any
// step fails, Prepare closes everything it opened so far and returns an
// error naming the failing spec; no partial state is published.
func Prepare(program string, args []string, specs []BindSpec, family Family, dropEnv []string, socketPath string) (*Template, error) {
	files := make([]*os.File, 0, len(specs))

	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for i, spec := range specs {
		f, err := bindOne(spec, family)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("bind spec #%d (%s): %w", i, spec.Raw, err)
		}
		files = append(files, f)
	}

	env := buildEnv(len(files), dropEnv, socketPath)

	return &Template{
		Program: program,
		Args:    args,
		Env:     env,
		Files:   files,
	}, nil
}

// bindOne binds a single listener and returns a duplicated, exec-inheritable
// descriptor with the requested socket options applied.
func bindOne(spec BindSpec, family Family) (*os.File, error) {
	ln, err := net.Listen(family.network(), net.JoinHostPort(spec.Host, spec.Port))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listener is not a *net.TCPListener")
	}

	// File() dups the fd with close-on-exec SET (it is meant for
	// introspection, not for handing to a child); we take a second
	// duplicate of that dup to get a descriptor plain dup(2) semantics
	// give us — independent of close-on-exec.
	introspect, err := tcpLn.File()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("listener.File: %w", err)
	}
	defer introspect.Close()

	childFD, err := unix.Dup(int(introspect.Fd()))
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("dup: %w", err)
	}

	if err := clearCloseOnExec(childFD); err != nil {
		unix.Close(childFD)
		_ = ln.Close()
		return nil, fmt.Errorf("clear close-on-exec: %w", err)
	}

	if spec.ReuseAddr {
		if err := unix.SetsockoptInt(childFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(childFD)
			_ = ln.Close()
			return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
		}
	}

	if spec.NonBlocking {
		if err := unix.SetNonblock(childFD, true); err != nil {
			unix.Close(childFD)
			_ = ln.Close()
			return nil, fmt.Errorf("O_NONBLOCK: %w", err)
		}
	}

	// The original listener handle is released without closing the
	// duplicate: ln.Close() tears down ln's own fd, independent of childFD.
	if err := ln.Close(); err != nil {
		unix.Close(childFD)
		return nil, fmt.Errorf("close original listener: %w", err)
	}

	return os.NewFile(uintptr(childFD), fmt.Sprintf("einhorn-listener-%s", spec.Raw)), nil
}

// clearCloseOnExec drops FD_CLOEXEC from fd so it survives exec when passed
// through os/exec.Cmd.ExtraFiles.
func clearCloseOnExec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC)
	return err
}

// buildEnv constructs the worker environment: the parent's environment,
// plus EINHORN_FD_COUNT and one EINHORN_FD_{i} per descriptor (descriptor
// numbers follow the os/exec.ExtraFiles convention: stdin/stdout/stderr
// occupy 0-2, so the i'th extra file lands at fd 3+i), plus
// EINHORN_SOCK_PATH so a manual-ack worker can find the control socket to
// ack against, minus every name in dropEnv.
func buildEnv(count int, dropEnv []string, socketPath string) []string {
	drop := make(map[string]bool, len(dropEnv))
	for _, name := range dropEnv {
		drop[name] = true
	}

	env := make([]string, 0, len(os.Environ())+count+2)
	for _, kv := range os.Environ() {
		if name, _, ok := cutEnv(kv); ok && drop[name] {
			continue
		}
		env = append(env, kv)
	}

	env = append(env, fmt.Sprintf("%s=%d", envFDCount, count))
	for i := 0; i < count; i++ {
		env = append(env, fmt.Sprintf("EINHORN_FD_%d=%d", i, 3+i))
	}
	if socketPath != "" {
		env = append(env, fmt.Sprintf("%s=%s", envSockPath, socketPath))
	}
	return env
}

func cutEnv(kv string) (name, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}
