package channel

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	require.Nil(t, SplitMessage("", 10))
	require.Equal(t, []string{"short"}, SplitMessage("short", 10))

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	require.Equal(t, []string{strings.Repeat("a", 8) + "\n", strings.Repeat("b", 8)}, SplitMessage(text, 10))

	chunks := SplitMessage(strings.Repeat("é", 10), 5)
	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 5)
		require.True(t, strings.Count(chunk, "é")*2 == len(chunk), "chunk %q splits a rune", chunk)
	}
	require.Equal(t, strings.Repeat("é", 10), strings.Join(chunks, ""))
}

func TestPreviewText(t *testing.T) {
	require.Equal(t, "hello", PreviewText(" hello "))

	got := PreviewText(strings.Repeat("a", messagePreviewLimit+20))
	require.Len(t, got, messagePreviewLimit+3)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestAllowList(t *testing.T) {
	allowed := NewAllowList([]string{" 123 ", "", "456", "123"})
	require.Len(t, allowed, 2)
	require.True(t, allowed.Allows("123"))
	require.False(t, allowed.Allows("789"))

	require.True(t, NewAllowList(nil).Allows("anyone"))
	require.True(t, NewAllowList([]string{"*"}).Allows("anyone"))
}

func TestDraftThrottle(t *testing.T) {
	throttle := NewDraftThrottle(time.Hour)
	require.False(t, throttle.Allow("d1"), "first edit right after the placeholder is throttled")
	require.False(t, throttle.Allow("d1"))

	throttle.Forget("d1")
	fast := NewDraftThrottle(time.Millisecond)
	require.Eventually(t, func() bool { return fast.Allow("d2") }, time.Second, 5*time.Millisecond)
}
