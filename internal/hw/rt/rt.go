// Package rt prepares the process for the fixed-rate control loop.
package rt

// LockMemory pins current and future pages in RAM so the control loop
// never waits on a page fault. It needs CAP_IPC_LOCK; callers should log
// and continue on error.
func LockMemory() error {
	return lockMemory()
}
