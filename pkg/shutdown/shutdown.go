package shutdown

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"pollchat/pkg/logger"
)

type exitRequest struct {
	Time      string `json:"time"`
	Reason    string `json:"reason"`
	Cmd       string `json:"cmd"`
	CrashPath string `json:"crash_path,omitempty"`
}

// Abort logs a fatal startup error, writes a crash dump next to the DB
// path and exits. The short delay gives log sinks time to flush.
func Abort(contextMsg string, err error, dbPath string, delaySeconds ...int) {
	delay := 3
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, derr := writeCrashDump(dbPath, contextMsg, err)
	if derr != nil {
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	time.Sleep(time.Duration(delay) * time.Second)
	os.Exit(2)
}

// writeCrashDump records the reason, a goroutine dump and an exit request
// file under <dbPath>/state/crash.
func writeCrashDump(dbPath, reason string, err error) (string, error) {
	crashDir := "./crash"
	if dbPath != "" {
		crashDir = filepath.Join(dbPath, "state", "crash")
	}
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", fmt.Errorf("failed to create crash dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))
	f, ferr := os.OpenFile(dumpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if ferr != nil {
		return "", fmt.Errorf("failed to create crash file: %w", ferr)
	}
	defer f.Close()

	fmt.Fprintf(f, "time: %s\nreason: %s\n", time.Now().UTC().Format(time.RFC3339), reason)
	if err != nil {
		fmt.Fprintf(f, "error: %v\n", err)
	}
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(f, "\n== goroutines ==\n%s\n", buf[:n])

	req := exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Cmd:       os.Args[0],
		CrashPath: dumpPath,
	}
	if b, merr := json.MarshalIndent(req, "", "  "); merr == nil {
		_ = os.WriteFile(filepath.Join(crashDir, fmt.Sprintf("exit-%d.json", ts)), b, 0o600)
	}
	return dumpPath, nil
}
