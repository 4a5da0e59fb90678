package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderNext(t *testing.T) {
	src := strings.Join([]string{
		": keep-alive",
		"",
		`data: {"a":1}`,
		"",
		"event: done",
		"data: line1",
		"data: line2",
		"",
		"data: [DONE]",
	}, "\n")
	r := NewReader(strings.NewReader(src))

	ev, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, ev.Data)
	require.Empty(t, ev.Type)

	ev, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "done", ev.Type)
	require.Equal(t, "line1\nline2", ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "[DONE]", ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	require.Nil(t, ev)
}
