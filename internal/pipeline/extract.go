package pipeline

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"rag-service-go/internal/model"
	"rag-service-go/pkg/log"

	"github.com/ledongthuc/pdf"
)

// isPDF 判断文件是否按物理页提取。
func isPDF(contentType, filename string) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// isPlainText 判断文件是否直接按段落聚合成合成页。
func isPlainText(contentType, filename string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".csv", ".log":
		return true
	}
	return false
}

// extractPDFPages 逐物理页提取 PDF 文本，空页与提取失败的页直接跳过。
func extractPDFPages(content []byte) ([]model.PageText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("解析 PDF 失败: %w", err)
	}

	var pages []model.PageText
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warnf("[Processor] 提取 PDF 第 %d 页失败: %v", i, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, model.PageText{Page: i, Text: text})
		}
	}
	return pages, nil
}
