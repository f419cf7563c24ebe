// Package gdb drives a toolchain GDB against a live target to replay a
// RAM snapshot, or to capture one.
//
// # Replay
//
// A Replayer owns one interactive GDB Session and walks a fixed sequence:
//
//	verify ─► connect ─► watchdog ─► load ─► registers ─► detach
//
// Each step sends commands on GDB's stdin and waits for a matching line
// on its merged stdout/stderr. Any failed wait aborts the replay with a
// StepError naming the step; GDB is shut down on every exit path.
//
//	sc, _ := ramdump.LoadSidecar("snapshot.json")
//	r := gdb.NewReplayer(gdb.DefaultConfig(), logger)
//	result, err := r.Run(ctx, sc)
//
// Register restore reads each saved word from the exception frame at
// the sidecar's esf_addr, writes it with "set $reg" and reads it back.
// The register order comes from the target profile.
//
// # Target Profiles
//
// Profiles are embedded from targets/targets.yaml and selected by name,
// then by the container target_type, then DefaultTarget:
//
//	targets:
//	  - name: ck802
//	    target_types: [0, 1]
//	    gdb: csky-elfabiv2-gdb
//	    registers: [r0, r1, ..., epsr, pc]
//	    watchdog:
//	      address: 0xc012001c
//	      value: 0x1
//
// # Snapshot
//
// The Executor runs templated scripts with gdb -batch. Snapshot renders
// scripts/templates/snapshot.gdb.tmpl, dumps each range with
// "dump binary memory" and writes the results as region files plus a
// sidecar, the same shape unpack produces.
//
// Scripts report progress via step markers in GDB output:
//
//	echo [1/2] Dumping 0x20000000 (65536 bytes)...\n
//	dump binary memory /tmp/.../0x20000000.bin 0x20000000 0x20010000
//	echo [1/2] OK\n
//
// # Error Handling
//
// The package defines specific error types for different failure modes:
//   - StepError: wraps any replay failure with its step
//   - ConnectionError: GDB never reported a remote connection
//   - LoadError: a region file failed verification or restore
//   - RegisterError: a register could not be read or did not stick
//   - TimeoutError: no expected response in time
//   - ProcessError: GDB could not start or exited early
//   - GDBExecutionError: a batch script failed
//
// All errors can be unwrapped with errors.Unwrap().
//
// # Prerequisites
//
// Use ValidatePrerequisites() to check the GDB binary and gdbserver
// before a replay.
package gdb
