// Package main 是 rag-service 的运维命令行工具。
// ingest-dir 批量上传目录下的文档，其余子命令封装管理端接口。
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "ragctl",
		Usage: "rag-service helper CLI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the rag-service API",
				Value:   "http://localhost:8021",
				EnvVars: []string{"RAG_API_URL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Tenant API key for data-plane requests",
				EnvVars: []string{"RAG_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "JWT for admin-plane requests (from POST /api/v1/admin/login)",
				EnvVars: []string{"RAG_ADMIN_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest-dir",
				Usage:  "Upload + enqueue all matching files in a directory",
				Action: runIngestDir,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "root",
						Usage:    "Root directory to scan",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "glob",
						Usage: "Glob relative to root",
						Value: "**/*.md",
					},
					&cli.StringFlag{
						Name:  "scope",
						Usage: "Document scope (tenant, workspace or user)",
						Value: "tenant",
					},
					&cli.StringFlag{
						Name:    "workspace-id",
						Usage:   "Value for the X-Workspace-Id header",
						EnvVars: []string{"RAG_WORKSPACE_ID"},
					},
					&cli.StringFlag{
						Name:    "principal-id",
						Usage:   "Value for the X-Principal-Id header",
						EnvVars: []string{"RAG_PRINCIPAL_ID"},
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of parallel uploads",
						Value: 4,
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-upload HTTP timeout",
						Value: 30 * time.Second,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Optional cap for testing (0 = no cap)",
						Value: 0,
					},
					&cli.BoolFlag{
						Name:  "prescan",
						Usage: "Count matches before uploading (slower start, accurate totals)",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Poll ingestion progress until every document reaches a terminal status",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print worker status and document counts",
				Action: runStatus,
			},
			{
				Name:   "pause",
				Usage:  "Pause the ingestion workers",
				Action: runPause,
			},
			{
				Name:   "resume",
				Usage:  "Resume the ingestion workers",
				Action: runResume,
			},
			{
				Name:      "concurrency",
				Usage:     "Get or set the desired worker concurrency",
				ArgsUsage: "[n]",
				Action:    runConcurrency,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// uploadResult 是单个文件上传的结果。
type uploadResult struct {
	path    string
	docID   string
	err     error
	elapsed time.Duration
}

func runIngestDir(c *cli.Context) error {
	apiKey := c.String("api-key")
	if apiKey == "" {
		return cli.Exit("ERROR: missing --api-key (or set RAG_API_KEY)", 2)
	}
	scope := c.String("scope")
	if scope != "tenant" && scope != "workspace" && scope != "user" {
		return cli.Exit(fmt.Sprintf("ERROR: invalid --scope: %s", scope), 2)
	}
	root := c.String("root")
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return cli.Exit(fmt.Sprintf("ERROR: root path does not exist: %s", root), 2)
	}

	pattern := c.String("glob")
	limit := c.Int("limit")
	concurrency := c.Int("concurrency")
	if concurrency < 1 {
		concurrency = 1
	}
	server := strings.TrimRight(c.String("server"), "/")
	client := &http.Client{Timeout: c.Duration("timeout")}

	fmt.Fprintf(os.Stderr, "Scanning %s for %s …\n", root, pattern)

	// --prescan 先数一遍匹配文件，进度行里才有准确的总数。
	total := 0
	if c.Bool("prescan") {
		walkMatches(root, pattern, limit, func(string) { total++ })
		fmt.Fprintf(os.Stderr, "Found %d matching file(s).\n", total)
	}

	// 扫描与上传并发进行，worker 从通道取路径。
	paths := make(chan string)
	results := make(chan uploadResult)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range paths {
				start := time.Now()
				docID, err := uploadOne(client, server, apiKey, scope,
					c.String("workspace-id"), c.String("principal-id"), p)
				results <- uploadResult{path: p, docID: docID, err: err, elapsed: time.Since(start)}
			}
		}()
	}

	go func() {
		defer func() {
			close(paths)
			wg.Wait()
			close(results)
		}()
		walkMatches(root, pattern, limit, func(p string) { paths <- p })
	}()

	t0 := time.Now()
	var ok, failed, completed int
	var docIDs []string
	lastProgress := time.Time{}
	for r := range results {
		completed++
		if r.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: ERROR: %v (%.2fs)\n", r.path, r.err, r.elapsed.Seconds())
		} else {
			ok++
			docIDs = append(docIDs, r.docID)
			fmt.Printf("%s: %s (%.2fs)\n", r.path, r.docID, r.elapsed.Seconds())
		}

		if time.Since(lastProgress) >= 2*time.Second {
			lastProgress = time.Now()
			rate := float64(completed) / time.Since(t0).Seconds()
			if total > 0 {
				fmt.Fprintf(os.Stderr, "[%d/%d] ok=%d failed=%d rate=%.2f/s\n", completed, total, ok, failed, rate)
			} else {
				fmt.Fprintf(os.Stderr, "[%d] ok=%d failed=%d rate=%.2f/s\n", completed, ok, failed, rate)
			}
		}
	}

	if completed == 0 {
		fmt.Println("No files matched.")
		return nil
	}
	fmt.Printf("Done in %.1fs. ok=%d failed=%d total=%d\n", time.Since(t0).Seconds(), ok, failed, completed)

	if c.Bool("wait") && len(docIDs) > 0 {
		waitFailed, err := waitForDocs(client, server, apiKey, docIDs)
		if err != nil {
			return err
		}
		failed += waitFailed
	}
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// uploadOne 以 multipart 表单上传一个文件，返回服务端分配的文档 ID。
// 文件内容经 io.Pipe 流式写入请求体，大文件不会整个读进内存。
func uploadOne(client *http.Client, server, apiKey, scope, workspaceID, principalID, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()
		if werr = mw.WriteField("scope", scope); werr != nil {
			return
		}
		contentType := mime.TypeByExtension(filepath.Ext(filePath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filePath)))
		header.Set("Content-Type", contentType)
		part, perr := mw.CreatePart(header)
		if perr != nil {
			werr = perr
			return
		}
		if _, werr = io.Copy(part, f); werr != nil {
			return
		}
		werr = mw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, server+"/api/v1/ingest", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if workspaceID != "" {
		req.Header.Set("X-Workspace-Id", workspaceID)
	}
	if principalID != "" {
		req.Header.Set("X-Principal-Id", principalID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		DocID string `json:"doc_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.DocID == "" {
		return "", errors.New("missing doc_id in response")
	}
	return out.DocID, nil
}

// waitForDocs 轮询每个文档的进度，直到全部进入 indexed 或 failed。
// 返回等待期间失败的文档数。
func waitForDocs(client *http.Client, server, apiKey string, docIDs []string) (int, error) {
	pending := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		pending[id] = struct{}{}
	}
	fmt.Fprintf(os.Stderr, "Waiting for %d document(s) …\n", len(pending))

	failed := 0
	for len(pending) > 0 {
		for id := range pending {
			event, err := fetchProgress(client, server, apiKey, id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: progress poll failed: %v\n", id, err)
				continue
			}
			switch event.Stage {
			case "indexed":
				fmt.Printf("%s: indexed - %s\n", id, event.Message)
				delete(pending, id)
			case "failed":
				failed++
				fmt.Printf("%s: failed - %s\n", id, event.Message)
				delete(pending, id)
			}
		}
		if len(pending) > 0 {
			time.Sleep(2 * time.Second)
		}
	}
	return failed, nil
}

// progressEvent 是进度接口响应中本工具关心的字段。
type progressEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

func fetchProgress(client *http.Client, server, apiKey, docID string) (*progressEvent, error) {
	req, err := http.NewRequest(http.MethodGet, server+"/api/v1/ingest/progress/"+docID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var event progressEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// walkMatches 遍历 root 下匹配 pattern 的普通文件并逐个回调，limit > 0 时到数即止。
func walkMatches(root, pattern string, limit int, fn func(path string)) {
	seen := 0
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || !matchPattern(rel, pattern) {
			return nil
		}
		fn(p)
		seen++
		if limit > 0 && seen >= limit {
			return fs.SkipAll
		}
		return nil
	})
}

// matchPattern 支持常见的 "**/*.ext" 递归形式，其余模式按相对路径整体匹配。
func matchPattern(rel, pattern string) bool {
	rel = filepath.ToSlash(rel)
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		matched, err := path.Match(rest, path.Base(rel))
		return err == nil && matched
	}
	matched, err := path.Match(pattern, rel)
	return err == nil && matched
}

func runStatus(c *cli.Context) error {
	return adminRequest(c, http.MethodGet, "/api/v1/admin/status", nil)
}

func runPause(c *cli.Context) error {
	return adminRequest(c, http.MethodPost, "/api/v1/admin/workers/pause", nil)
}

func runResume(c *cli.Context) error {
	return adminRequest(c, http.MethodPost, "/api/v1/admin/workers/resume", nil)
}

func runConcurrency(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return adminRequest(c, http.MethodGet, "/api/v1/admin/workers/concurrency", nil)
	}
	n, err := strconv.Atoi(c.Args().First())
	if err != nil || n < 1 {
		return cli.Exit(fmt.Sprintf("ERROR: concurrency must be a positive integer, got %q", c.Args().First()), 2)
	}
	payload := strings.NewReader(fmt.Sprintf(`{"concurrency":%d}`, n))
	return adminRequest(c, http.MethodPut, "/api/v1/admin/workers/concurrency", payload)
}

// adminRequest 携带管理端令牌调用给定接口，把响应 JSON 缩进后打印到标准输出。
func adminRequest(c *cli.Context, method, apiPath string, body io.Reader) error {
	tokenStr := c.String("admin-token")
	if tokenStr == "" {
		return cli.Exit("ERROR: missing --admin-token (or set RAG_ADMIN_TOKEN)", 2)
	}

	server := strings.TrimRight(c.String("server"), "/")
	req, err := http.NewRequest(method, server+apiPath, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	}
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(indented))
	return nil
}
