package service

import (
	"context"
	"errors"
	"fmt"

	"rag-service-go/internal/config"
	"rag-service-go/internal/control"
	"rag-service-go/internal/model"
	"rag-service-go/internal/repository"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/queue"
	"rag-service-go/pkg/token"

	"golang.org/x/crypto/bcrypt"
)

// ErrAdminDisabled 表示管理端登录未配置。
var ErrAdminDisabled = errors.New("管理端登录未配置")

// ErrInvalidCredentials 表示用户名或密码错误。
var ErrInvalidCredentials = errors.New("用户名或密码错误")

// AdminLoginResult 是管理端登录接口的响应体。
type AdminLoginResult struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// WorkerStatus 描述摄取 worker 的运行状态。
// QueueDepth 为 -1 表示当前队列实现无法统计积压量。
type WorkerStatus struct {
	Paused      bool   `json:"paused"`
	PausedSince string `json:"paused_since,omitempty"`
	Concurrency int    `json:"concurrency"`
	PoolSize    int    `json:"pool_size"`
	QueueDepth  int64  `json:"queue_depth"`
}

// AdminStatus 聚合 worker 运行状态与全库文档状态分布。
type AdminStatus struct {
	Workers   WorkerStatus   `json:"workers"`
	Documents DocumentCounts `json:"documents"`
}

// AdminService 接口定义了管理端相关的业务操作。
type AdminService interface {
	Login(username, password string) (*AdminLoginResult, error)
	Status(ctx context.Context) (*AdminStatus, error)
	WorkerStatus(ctx context.Context) (*WorkerStatus, error)
	PauseWorkers(ctx context.Context) (*WorkerStatus, error)
	ResumeWorkers(ctx context.Context) (*WorkerStatus, error)
	SetWorkerConcurrency(ctx context.Context, n int) (*WorkerStatus, error)
}

type adminService struct {
	authCfg  config.AuthConfig
	jwtMgr   *token.JWTManager
	plane    control.Plane
	queue    queue.Queue
	docRepo  repository.DocumentRepository
	poolSize int
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(authCfg config.AuthConfig, jwtMgr *token.JWTManager, plane control.Plane, q queue.Queue, docRepo repository.DocumentRepository, poolSize int) AdminService {
	return &adminService{
		authCfg:  authCfg,
		jwtMgr:   jwtMgr,
		plane:    plane,
		queue:    q,
		docRepo:  docRepo,
		poolSize: poolSize,
	}
}

// Login 校验管理员凭证并签发访问令牌。密码只存 bcrypt 散列。
func (s *adminService) Login(username, password string) (*AdminLoginResult, error) {
	if s.authCfg.AdminUsername == "" || s.authCfg.AdminPasswordHash == "" {
		return nil, ErrAdminDisabled
	}
	if username != s.authCfg.AdminUsername {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.authCfg.AdminPasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	tok, err := s.jwtMgr.GenerateAdminToken(username)
	if err != nil {
		return nil, fmt.Errorf("生成管理员令牌失败: %w", err)
	}
	log.Infof("[Admin] 管理员登录成功, Username: %s", username)
	return &AdminLoginResult{Token: tok, Username: username}, nil
}

// Status 返回 worker 运行状态与全库文档状态分布，供管理端总览页使用。
func (s *adminService) Status(ctx context.Context) (*AdminStatus, error) {
	workers, err := s.WorkerStatus(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.docRepo.CountsAllByStatus()
	if err != nil {
		return nil, fmt.Errorf("统计文档状态失败: %w", err)
	}
	docs := DocumentCounts{
		Queued:     counts[model.StatusQueued],
		Processing: counts[model.StatusProcessing],
		Indexed:    counts[model.StatusIndexed],
		Failed:     counts[model.StatusFailed],
	}
	docs.Total = docs.Queued + docs.Processing + docs.Indexed + docs.Failed

	return &AdminStatus{Workers: *workers, Documents: docs}, nil
}

// WorkerStatus 汇总暂停标志、期望并发度与队列积压量。
func (s *adminService) WorkerStatus(ctx context.Context) (*WorkerStatus, error) {
	paused, err := s.plane.Paused(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取暂停标志失败: %w", err)
	}
	pausedSince, err := s.plane.PausedSince(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取暂停时间失败: %w", err)
	}

	depth, err := s.queue.Depth(ctx)
	if err != nil {
		log.Warnf("[Admin] 读取队列积压量失败: %v", err)
		depth = -1
	}

	return &WorkerStatus{
		Paused:      paused,
		PausedSince: pausedSince,
		Concurrency: s.plane.DesiredConcurrency(ctx, s.poolSize),
		PoolSize:    s.poolSize,
		QueueDepth:  depth,
	}, nil
}

// PauseWorkers 设置暂停标志，调度器在下一轮循环停止拉取新任务。
func (s *adminService) PauseWorkers(ctx context.Context) (*WorkerStatus, error) {
	if err := s.plane.Pause(ctx); err != nil {
		return nil, fmt.Errorf("设置暂停标志失败: %w", err)
	}
	log.Info("[Admin] 摄取 worker 已暂停")
	return s.WorkerStatus(ctx)
}

// ResumeWorkers 清除暂停标志。
func (s *adminService) ResumeWorkers(ctx context.Context) (*WorkerStatus, error) {
	if err := s.plane.Resume(ctx); err != nil {
		return nil, fmt.Errorf("清除暂停标志失败: %w", err)
	}
	log.Info("[Admin] 摄取 worker 已恢复")
	return s.WorkerStatus(ctx)
}

// SetWorkerConcurrency 调整期望并发度，返回钳制后的生效值。
func (s *adminService) SetWorkerConcurrency(ctx context.Context, n int) (*WorkerStatus, error) {
	clamped, err := s.plane.SetConcurrency(ctx, n, s.poolSize)
	if err != nil {
		return nil, fmt.Errorf("写入期望并发度失败: %w", err)
	}
	log.Infof("[Admin] 期望并发度已调整, 请求值: %d, 生效值: %d", n, clamped)
	return s.WorkerStatus(ctx)
}
