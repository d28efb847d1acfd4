package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertFileWritten checks that the run logged file fileNum as written and
// that the file exists.
func AssertFileWritten(t *testing.T, result *HarnessResult, fileNum int) {
	t.Helper()

	require.Contains(t, result.LogOutput, "File written.")
	require.True(t,
		strings.Contains(result.LogOutput, fmt.Sprintf("file_num=%d ", fileNum)),
		"expected a log line for file %d", fileNum,
	)
	require.NotNil(t, result.Summary)
	for _, f := range result.Summary.Files {
		if f.FileNum == fileNum {
			require.NoError(t, f.Err)
			_, err := os.Stat(f.Path)
			require.NoError(t, err, "file %d was not written to %s", fileNum, f.Path)
			return
		}
	}
	t.Fatalf("file %d missing from summary", fileNum)
}
