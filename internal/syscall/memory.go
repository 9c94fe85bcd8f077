package syscall

import "rvos/internal/kerr"

// VirtualMemory is the per-process address-translation view a
// syscall needs to copy bytes to and from user pointers.
type VirtualMemory interface {
	Translate(virt uintptr) (phys uintptr, ok bool)
}

// Frames resolves a physical frame address into the bytes backing it,
// the same FrameBytes contract pmm.Allocator implements and vmm.Frames
// includes.
type Frames interface {
	FrameBytes(phys uintptr) []byte
}

const frameSize = 4096

func copyFromUser(vm VirtualMemory, frames Frames, ptr uintptr, n int) ([]byte, error) {
	out := make([]byte, n)
	done := 0
	for done < n {
		phys, ok := vm.Translate(ptr + uintptr(done))
		if !ok {
			return nil, kerr.InvalidArgument
		}
		pageOff := int(phys % frameSize)
		frame := frames.FrameBytes(phys - uintptr(pageOff))
		m := min(frameSize-pageOff, n-done)
		copy(out[done:done+m], frame[pageOff:pageOff+m])
		done += m
	}
	return out, nil
}

func copyToUser(vm VirtualMemory, frames Frames, ptr uintptr, src []byte) error {
	done := 0
	for done < len(src) {
		phys, ok := vm.Translate(ptr + uintptr(done))
		if !ok {
			return kerr.InvalidArgument
		}
		pageOff := int(phys % frameSize)
		frame := frames.FrameBytes(phys - uintptr(pageOff))
		m := min(frameSize-pageOff, len(src)-done)
		copy(frame[pageOff:pageOff+m], src[done:done+m])
		done += m
	}
	return nil
}

// maxCString bounds readCString the same way a real kernel bounds a
// copy-in of an unvalidated user pointer.
const maxCString = 256

func readCString(vm VirtualMemory, frames Frames, ptr uintptr) (string, error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < maxCString; i++ {
		b, err := copyFromUser(vm, frames, ptr+uintptr(i), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", kerr.InvalidArgument
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
