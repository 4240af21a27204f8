package main

// A worker binary consumes the descriptors einhornd hands it through the
// environment: EINHORN_FD_COUNT gives the number of inherited listeners,
// and EINHORN_FD_0..EINHORN_FD_{N-1} give the fd number (relative to the
// worker process, not the master) each one landed on. A minimal worker
// looks like:
//
//	count, _ := strconv.Atoi(os.Getenv("EINHORN_FD_COUNT"))
//	listeners := make([]net.Listener, count)
//	for i := 0; i < count; i++ {
//		fdStr := os.Getenv(fmt.Sprintf("EINHORN_FD_%d", i))
//		fd, _ := strconv.Atoi(fdStr)
//		f := os.NewFile(uintptr(fd), fmt.Sprintf("einhorn-fd-%d", i))
//		listeners[i], _ = net.FileListener(f)
//	}
//
// If the worker was started under -m/--manual, it must additionally
// acknowledge its own readiness before the childhood deadline elapses, by
// sending {"command":"worker:ack","pid":<its own pid>} to the control
// socket named by EINHORN_SOCK_PATH (or the path passed on its own command
// line), using internal/controlclient or an equivalent client:
//
//	path := os.Getenv("EINHORN_SOCK_PATH")
//	c, _ := controlclient.Dial(path)
//	c.Do(control.Request{Command: "worker:ack", Pid: uint(os.Getpid())}, time.Second)
//	c.Close()
//
// This file only documents the contract; einhornd does not check that a
// worker implements it. Under -m/--manual a worker that never acks is
// terminated when its childhood elapses, and a successor is spawned only
// while the lineage is still within its -r/--retries budget.
