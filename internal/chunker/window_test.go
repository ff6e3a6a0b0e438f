package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/internal/model"
)

func TestPaginateTextEmpty(t *testing.T) {
	assert.Nil(t, PaginateText(""))
	assert.Nil(t, PaginateText("   \n\t  "))
}

func TestPaginateTextSinglePage(t *testing.T) {
	pages := PaginateText("第一段。\n\n第二段。")

	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, "第一段。\n\n第二段。", pages[0].Text)
}

func TestPaginateTextSplitsOnPageLimit(t *testing.T) {
	// 两段各 7000 字符，装不进同一页
	para1 := strings.Repeat("a", 7000)
	para2 := strings.Repeat("b", 7000)
	pages := PaginateText(para1 + "\n\n" + para2)

	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, para1, pages[0].Text)
	assert.Equal(t, 2, pages[1].Page)
	assert.Equal(t, para2, pages[1].Text)
}

func TestPaginateTextOversizedParagraphAlone(t *testing.T) {
	// 单段超过页上限时独占一页，不会被截断
	big := strings.Repeat("x", maxCharsPerPage+100)
	pages := PaginateText("small\n\n" + big + "\n\nend")

	require.Len(t, pages, 3)
	assert.Equal(t, "small", pages[0].Text)
	assert.Equal(t, big, pages[1].Text)
	assert.Equal(t, "end", pages[2].Text)
}

func TestMakeWindowsSinglePage(t *testing.T) {
	pages := []model.PageText{{Page: 1, Text: "hello world"}}
	windows := makeWindows(pages, 16000, 1000)

	require.Len(t, windows, 1)
	assert.Equal(t, "hello world", windows[0].text)
	assert.Equal(t, 0, windows[0].overlapStart)
	assert.Equal(t, []int{1}, windows[0].pages)
}

func TestMakeWindowsCarriesOverlap(t *testing.T) {
	pageA := strings.Repeat("alpha ", 40)
	pageB := strings.Repeat("bravo ", 40)
	pageC := strings.Repeat("carol ", 40)
	pages := []model.PageText{
		{Page: 1, Text: pageA},
		{Page: 2, Text: pageB},
		{Page: 3, Text: pageC},
	}

	// 预算设为 1 token，每页一进来就关窗
	windows := makeWindows(pages, 1, 1)

	require.Len(t, windows, 3)
	assert.Equal(t, 0, windows[0].overlapStart)
	assert.Equal(t, pageA, windows[0].text)

	for i := 1; i < 3; i++ {
		win := windows[i]
		require.Greater(t, win.overlapStart, 0, "窗口 %d 应继承 overlap 前缀", i)
		prefix := win.text[:win.overlapStart]
		assert.True(t, strings.HasSuffix(windows[i-1].text, prefix),
			"窗口 %d 的前缀必须是上一窗口的尾部", i)
	}

	assert.Contains(t, windows[1].text[windows[1].overlapStart:], pageB)
	assert.Contains(t, windows[2].text[windows[2].overlapStart:], pageC)
	assert.Equal(t, []int{1, 2}, windows[1].pages)
	assert.Equal(t, []int{2, 3}, windows[2].pages)
}

func TestMakeWindowsSkipsSeedOnlyTail(t *testing.T) {
	// 最后一页关窗后 buffer 只剩种子前缀，不应再多出一个窗口
	pages := []model.PageText{
		{Page: 1, Text: strings.Repeat("alpha ", 40)},
		{Page: 2, Text: strings.Repeat("bravo ", 40)},
	}
	windows := makeWindows(pages, 1, 1)

	assert.Len(t, windows, 2)
}

func TestMakeWindowsEmptyInput(t *testing.T) {
	assert.Empty(t, makeWindows(nil, 16000, 1000))
}

func TestOverlapTailRuneBoundary(t *testing.T) {
	full := strings.Repeat("中", 10)
	tail := overlapTail(full, 1, 7)

	assert.True(t, utf8.ValidString(tail))
	assert.True(t, strings.HasSuffix(full, tail))
	assert.NotEmpty(t, tail)
}

func TestOverlapTailZeroWindow(t *testing.T) {
	assert.Equal(t, "", overlapTail("anything", 100, 0))
}

func TestJoinPagesMatchesLocatorConvention(t *testing.T) {
	pages := []model.PageText{
		{Page: 1, Text: "one"},
		{Page: 2, Text: "two"},
	}
	assert.Equal(t, "one\n\ntwo", joinPages(pages))
}
