package desktop

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zombieChildren counts exited but unreaped children of this process.
func zombieChildren(t *testing.T) int {
	t.Helper()
	stats, err := filepath.Glob("/proc/[0-9]*/stat")
	require.NoError(t, err)

	self := strconv.Itoa(os.Getpid())
	count := 0
	for _, path := range stats {
		data, err := os.ReadFile(path)
		if err != nil {
			continue // process went away
		}
		// Fields after the parenthesised command name: state ppid ...
		end := strings.LastIndexByte(string(data), ')')
		if end < 0 {
			continue
		}
		fields := strings.Fields(string(data)[end+1:])
		if len(fields) >= 2 && fields[0] == "Z" && fields[1] == self {
			count++
		}
	}
	return count
}

func TestExecRunnerStartReapsChildren(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	for range 3 {
		require.NoError(t, ExecRunner{}.Start("true"))
	}

	assert.Eventually(t, func() bool {
		return zombieChildren(t) == 0
	}, 2*time.Second, 50*time.Millisecond, "launched apps must be reaped after they exit")
}

func TestExecRunnerStartMissingBinary(t *testing.T) {
	err := ExecRunner{}.Start("fairy-no-such-app")
	require.Error(t, err)
	assert.True(t, isNotFound(err))
}
