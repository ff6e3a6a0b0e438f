package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"rag-service-go/internal/model"
	"rag-service-go/pkg/tokenizer"
)

// maxCharsPerPage 是纯文本合成页的字符上限。
const maxCharsPerPage = 12000

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// PaginateText 把一整段纯文本按空行切成段落，再把段落装配成合成页。
// 当前页非空且再装入下一段会超过上限时关闭当前页。页码从 1 开始。
func PaginateText(fullText string) []model.PageText {
	if strings.TrimSpace(fullText) == "" {
		return nil
	}

	paragraphs := paragraphSplitRe.Split(fullText, -1)
	var pages []model.PageText
	var current []string
	currentChars := 0
	pageNum := 1

	for _, para := range paragraphs {
		paraLen := len(para)
		if len(current) > 0 && currentChars+paraLen > maxCharsPerPage {
			pages = append(pages, model.PageText{Page: pageNum, Text: strings.Join(current, "\n\n")})
			pageNum++
			current = nil
			currentChars = 0
		}
		current = append(current, para)
		currentChars += paraLen
	}

	if len(current) > 0 {
		pages = append(pages, model.PageText{Page: pageNum, Text: strings.Join(current, "\n\n")})
	}
	return pages
}

// window 是提交给分块生成调用的一批连续页。
// overlapStart 是窗口文本里继承自上一窗口的 overlap 前缀的字节长度，
// 首个窗口为 0。前缀部分只作上下文，不再产出新 chunk。
type window struct {
	text         string
	overlapStart int
	pages        []int
	tokenCount   int
}

// makeWindows 按 token 预算把页聚合成窗口。窗口关闭时取其尾部
// overlapTokens/窗口token 比例的字符作为下一窗口的种子前缀，
// 保证跨窗口边界的语义单元有足够的上下文。
func makeWindows(pages []model.PageText, maxTokens, overlapTokens int) []window {
	var windows []window
	var buffer []string
	var currentPages []int
	currentTokens := 0
	overlapLen := 0
	// 上次关窗后是否又进来了新页; 收尾时只剩种子前缀的窗口不值得再发起一次生成
	hasNewContent := false

	for _, page := range pages {
		pageTokens := tokenizer.Count(page.Text)
		buffer = append(buffer, page.Text)
		currentPages = append(currentPages, page.Page)
		currentTokens += pageTokens
		hasNewContent = true

		if currentTokens >= maxTokens {
			fullText := strings.Join(buffer, "\n\n")
			windows = append(windows, window{
				text:         fullText,
				overlapStart: overlapLen,
				pages:        append([]int(nil), currentPages...),
				tokenCount:   currentTokens,
			})

			overlapText := overlapTail(fullText, overlapTokens, currentTokens)
			buffer = []string{overlapText}
			currentPages = []int{currentPages[len(currentPages)-1]}
			currentTokens = tokenizer.Count(overlapText)
			overlapLen = len(overlapText)
			hasNewContent = false
		}
	}

	if len(buffer) > 0 && hasNewContent {
		fullText := strings.Join(buffer, "\n\n")
		windows = append(windows, window{
			text:         fullText,
			overlapStart: overlapLen,
			pages:        append([]int(nil), currentPages...),
			tokenCount:   currentTokens,
		})
	}

	return windows
}

// overlapTail 取窗口文本尾部的 overlap 切片，切口落在合法的 UTF-8 边界上。
func overlapTail(fullText string, overlapTokens, windowTokens int) string {
	if windowTokens <= 0 {
		return ""
	}
	ratio := float64(overlapTokens) / float64(windowTokens)
	overlapChars := int(float64(len(fullText)) * ratio)
	cut := len(fullText) - overlapChars
	if cut < 0 {
		cut = 0
	}
	for cut < len(fullText) && !utf8.RuneStart(fullText[cut]) {
		cut++
	}
	return fullText[cut:]
}

// joinPages 按窗口化同样的连接符重建全文，保证 chunk 定位偏移一致。
func joinPages(pages []model.PageText) string {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}
