// Package syscall is the system-call dispatcher (spec §4.7): it
// decodes the ecall ABI (number in a7, arguments in a0..a5) into one
// of a fixed set of syscall numbers and routes each to the
// filesystem, process table, console, or shutdown hook, collapsing
// every error into the -1 ABI spec §7 specifies.
//
// The numbers below are spec.md §6's "stable ABI" table verbatim,
// distilled from original_source/kernel/syscall/syscall.h; SysShutdown
// and SysSuspend are SPEC_FULL.md's supplemented additions (spec.md's
// table stops at 18), numbered past the end of that table so they
// never collide with it.
package syscall

// Number identifies one syscall, the value ecall placed in a7.
type Number uint64

const (
	SysExit   Number = 1
	SysGetpid Number = 2
	SysFork   Number = 3
	SysWait   Number = 4
	SysSbrk   Number = 5
	SysSleep  Number = 6
	SysKill   Number = 7
	SysUptime Number = 8
	SysWrite  Number = 9
	SysOpen   Number = 10
	SysRead   Number = 11
	SysClose  Number = 12
	SysLs     Number = 13
	SysGetc   Number = 14
	SysUnlink Number = 15
	SysExec   Number = 16
	SysTrunc  Number = 17
	SysPs     Number = 18

	SysShutdown Number = 19 // original_source/usr/sys_shutdown.c
	SysSuspend  Number = 20 // original_source/usr/sys_suspend.c
)
