package proc

// Schedule implements the round-robin policy from original_source's
// schedule(), in five steps:
//  1. reap finished processes (zombiesFree), skipping current;
//  2. if current is still runnable, requeue it at the tail;
//  3. pop the next pid from the ready queue, or fall back to idle;
//  4. if the next process is already current and still running, the
//     reap in step 1 was the only work to do — return without a
//     context switch;
//  5. otherwise mark next Running, swap current, and hand back the
//     register context for the caller (the trap return path) to
//     restore.
//
// SwitchHook, if set, is invoked with (from, to) immediately before
// Schedule returns a real switch; a bare-metal port wires it to the
// assembly context-switch routine, the host build leaves it nil and
// only current changes.
func (s *Scheduler) Schedule() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.zombiesFree()

	prev := s.current
	if prev != nil && prev.State == Running {
		prev.State = Runnable
		if prev.Pid != 0 {
			s.ready = append(s.ready, prev.Pid)
		}
	}

	var next *PCB
	if len(s.ready) > 0 {
		pid := s.ready[0]
		s.ready = s.ready[1:]
		next = s.procs[pid]
	} else {
		next = s.idle
	}

	if next == prev && next.State == Runnable {
		next.State = Running
		return &next.Ctx
	}

	next.State = Running
	s.current = next
	if s.SwitchHook != nil && prev != nil {
		s.SwitchHook(&prev.Ctx, &next.Ctx)
	}
	return &next.Ctx
}
