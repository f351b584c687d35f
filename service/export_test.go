package service

import "testing"

// Kill kills the child process and waits for it to exit.
func (p *SpawnedProcess) Kill(t *testing.T) {
	t.Helper()
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.child == nil {
		t.Fatal("no child process")
	}
	if err := p.child.cmd.Process.Kill(); err != nil {
		t.Fatalf("failed to kill child process: %v", err)
	}
	<-p.child.exited
}
